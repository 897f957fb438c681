package query

import (
	"time"

	"github.com/google/uuid"
)

// PositionResponse is one account's position in a vault.
// AsOfSequence reports the persisted sequence the read reflects.
type PositionResponse struct {
	AccountID             uuid.UUID `json:"account_id"`
	VaultID               string    `json:"vault_id"`
	Maturity              int64     `json:"maturity"`
	VaultShares           int64     `json:"vault_shares"`
	AccountDebtUnderlying int64     `json:"account_debt_underlying"`
	SecondaryDebt         [2]int64  `json:"secondary_debt"`
	LastUpdateTime        int64     `json:"last_update_time"`
	AsOfSequence          int64     `json:"as_of_sequence"`
}

// VaultStateResponse is the aggregate of one vault maturity.
type VaultStateResponse struct {
	VaultID             string `json:"vault_id"`
	Maturity            int64  `json:"maturity"`
	TotalDebtUnderlying int64  `json:"total_debt_underlying"`
	TotalVaultShares    int64  `json:"total_vault_shares"`
	IsSettled           bool   `json:"is_settled"`
	ShareConversionRate int64  `json:"share_conversion_rate"`
	DebtWriteDownRate   int64  `json:"debt_write_down_rate"`
	AsOfSequence        int64  `json:"as_of_sequence"`
}

// EventResponse is one row of the event log.
type EventResponse struct {
	Sequence  int64          `json:"sequence"`
	EventType string         `json:"event_type"`
	VaultID   string         `json:"vault_id"`
	AccountID *uuid.UUID     `json:"account_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}
