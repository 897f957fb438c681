package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// Store reads the persisted ledger back for warm starts.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadAccounts reads all position records.
func (s *Store) LoadAccounts(ctx context.Context) ([]vault.VaultAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, vault_id, maturity, vault_shares, account_debt,
		       secondary_debt_1, secondary_debt_2, last_update_time
		FROM vault_ledger.vault_accounts
	`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []vault.VaultAccount
	for rows.Next() {
		var a vault.VaultAccount
		var accountID string
		if err := rows.Scan(&accountID, &a.VaultID, &a.Maturity, &a.VaultShares,
			&a.AccountDebtUnderlying, &a.SecondaryDebt[0], &a.SecondaryDebt[1],
			&a.LastUpdateTime); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.AccountID, err = uuid.Parse(accountID)
		if err != nil {
			return nil, fmt.Errorf("parse account id %q: %w", accountID, err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// LoadStates reads all aggregate records.
func (s *Store) LoadStates(ctx context.Context) ([]vault.VaultState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vault_id, maturity, total_debt, total_shares, is_settled, share_conversion_rate, debt_write_down_rate
		FROM vault_ledger.vault_states
	`)
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	defer rows.Close()

	var states []vault.VaultState
	for rows.Next() {
		var st vault.VaultState
		if err := rows.Scan(&st.VaultID, &st.Maturity, &st.TotalDebtUnderlying,
			&st.TotalVaultShares, &st.IsSettled, &st.ShareConversionRate,
			&st.DebtWriteDownRate); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// MaxSequence returns the highest persisted event sequence, or -1 when the
// event log is empty.
func (s *Store) MaxSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM vault_ledger.events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
