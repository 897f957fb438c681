package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"VaultLedger/internal/vault"
)

// LedgerWriter writes events and ledger records to Postgres using multi-row
// INSERTs. Event writes are idempotent on sequence; ledger records are
// last-write-wins upserts keyed by the emitting sequence, so replaying a
// batch cannot regress a newer record.
type LedgerWriter struct {
	db *sql.DB
}

// EventRow represents a row in vault_ledger.events
type EventRow struct {
	Sequence  int64
	EventType string
	VaultID   string
	AccountID *string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

func NewLedgerWriter(db *sql.DB) *LedgerWriter {
	return &LedgerWriter{db: db}
}

// WriteEventBatch appends a batch of events to vault_ledger.events.
func (w *LedgerWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO vault_ledger.events
		(sequence, event_type, vault_id, account_id, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, e.Sequence, e.EventType, e.VaultID, e.AccountID, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertAccounts writes position records, keeping the newest by sequence.
func (w *LedgerWriter) UpsertAccounts(ctx context.Context, tx *sql.Tx, accounts []vault.VaultAccount, sequence int64) error {
	if len(accounts) == 0 {
		return nil
	}

	query := `INSERT INTO vault_ledger.vault_accounts
		(account_id, vault_id, maturity, vault_shares, account_debt, secondary_debt_1, secondary_debt_2, last_update_time, updated_sequence)
		VALUES `

	values := make([]string, 0, len(accounts))
	args := make([]interface{}, 0, len(accounts)*9)

	for i, a := range accounts {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			a.AccountID.String(), a.VaultID, a.Maturity, a.VaultShares,
			a.AccountDebtUnderlying, a.SecondaryDebt[0], a.SecondaryDebt[1],
			a.LastUpdateTime, sequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (account_id, vault_id) DO UPDATE SET
		maturity = EXCLUDED.maturity,
		vault_shares = EXCLUDED.vault_shares,
		account_debt = EXCLUDED.account_debt,
		secondary_debt_1 = EXCLUDED.secondary_debt_1,
		secondary_debt_2 = EXCLUDED.secondary_debt_2,
		last_update_time = EXCLUDED.last_update_time,
		updated_sequence = EXCLUDED.updated_sequence
	WHERE vault_ledger.vault_accounts.updated_sequence < EXCLUDED.updated_sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertStates writes aggregate records, keeping the newest by sequence.
func (w *LedgerWriter) UpsertStates(ctx context.Context, tx *sql.Tx, states []vault.VaultState, sequence int64) error {
	if len(states) == 0 {
		return nil
	}

	query := `INSERT INTO vault_ledger.vault_states
		(vault_id, maturity, total_debt, total_shares, is_settled, share_conversion_rate, debt_write_down_rate, updated_sequence)
		VALUES `

	values := make([]string, 0, len(states))
	args := make([]interface{}, 0, len(states)*8)

	for i, s := range states {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			s.VaultID, s.Maturity, s.TotalDebtUnderlying, s.TotalVaultShares,
			s.IsSettled, s.ShareConversionRate, s.DebtWriteDownRate, sequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (vault_id, maturity) DO UPDATE SET
		total_debt = EXCLUDED.total_debt,
		total_shares = EXCLUDED.total_shares,
		is_settled = EXCLUDED.is_settled,
		share_conversion_rate = EXCLUDED.share_conversion_rate,
		debt_write_down_rate = EXCLUDED.debt_write_down_rate,
		updated_sequence = EXCLUDED.updated_sequence
	WHERE vault_ledger.vault_states.updated_sequence < EXCLUDED.updated_sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
