package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to the persisted ledger tables. Reads
// are eventually consistent with the engine; every response carries
// as_of_sequence so callers can reason about freshness.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetPosition returns one account's position in a vault.
func (s *Service) GetPosition(ctx context.Context, accountID uuid.UUID, vaultID string) (*PositionResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var p PositionResponse
	p.AccountID = accountID
	p.VaultID = vaultID
	p.AsOfSequence = asOfSeq

	err = s.db.QueryRowContext(ctx, `
		SELECT maturity, vault_shares, account_debt, secondary_debt_1, secondary_debt_2, last_update_time
		FROM vault_ledger.vault_accounts
		WHERE account_id = $1 AND vault_id = $2
	`, accountID, vaultID).Scan(
		&p.Maturity, &p.VaultShares, &p.AccountDebtUnderlying,
		&p.SecondaryDebt[0], &p.SecondaryDebt[1], &p.LastUpdateTime,
	)
	if err == sql.ErrNoRows {
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAccountPositions returns every position an account holds.
func (s *Service) GetAccountPositions(ctx context.Context, accountID uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT vault_id, maturity, vault_shares, account_debt, secondary_debt_1, secondary_debt_2, last_update_time
		FROM vault_ledger.vault_accounts
		WHERE account_id = $1 AND (vault_shares > 0 OR account_debt < 0)
		ORDER BY vault_id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.AccountID = accountID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.VaultID, &p.Maturity, &p.VaultShares, &p.AccountDebtUnderlying,
			&p.SecondaryDebt[0], &p.SecondaryDebt[1], &p.LastUpdateTime,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetVaultStates returns all maturities of a vault.
func (s *Service) GetVaultStates(ctx context.Context, vaultID string) ([]VaultStateResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT maturity, total_debt, total_shares, is_settled, share_conversion_rate, debt_write_down_rate
		FROM vault_ledger.vault_states
		WHERE vault_id = $1
		ORDER BY maturity
	`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []VaultStateResponse
	for rows.Next() {
		var st VaultStateResponse
		st.VaultID = vaultID
		st.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&st.Maturity, &st.TotalDebtUnderlying, &st.TotalVaultShares,
			&st.IsSettled, &st.ShareConversionRate, &st.DebtWriteDownRate,
		); err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

// GetEvents returns the event log for a vault with cursor pagination,
// newest first.
func (s *Service) GetEvents(ctx context.Context, vaultID string, limit int, beforeSequence *int64) ([]EventResponse, error) {
	query := `
		SELECT sequence, event_type, vault_id, account_id, payload, timestamp
		FROM vault_ledger.events
		WHERE vault_id = $1
	`
	args := []interface{}{vaultID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		var payload []byte
		var accountID sql.NullString
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.VaultID, &accountID, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		if accountID.Valid {
			id, err := uuid.Parse(accountID.String)
			if err != nil {
				return nil, fmt.Errorf("parse account id %q: %w", accountID.String, err)
			}
			e.AccountID = &id
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload seq %d: %w", e.Sequence, err)
			}
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// getWatermark returns the highest persisted sequence.
func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM vault_ledger.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
