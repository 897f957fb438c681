package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeVaultEntered
	EventTypeVaultExited
	EventTypePositionRolled
	EventTypeMaturitySettled
	EventTypeAccountSettled
	EventTypeAccountDeleveraged
	EventTypeShortfallCovered
	EventTypeProtocolInsolvency
	EventTypeFeeAccrued
)

func (et EventType) String() string {
	switch et {
	case EventTypeVaultEntered:
		return "VaultEntered"
	case EventTypeVaultExited:
		return "VaultExited"
	case EventTypePositionRolled:
		return "PositionRolled"
	case EventTypeMaturitySettled:
		return "MaturitySettled"
	case EventTypeAccountSettled:
		return "AccountSettled"
	case EventTypeAccountDeleveraged:
		return "AccountDeleveraged"
	case EventTypeShortfallCovered:
		return "ShortfallCovered"
	case EventTypeProtocolInsolvency:
		return "ProtocolInsolvency"
	case EventTypeFeeAccrued:
		return "FeeAccrued"
	default:
		return "Unknown"
	}
}

// Envelope wraps every event emitted by the engine
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Event type discriminator
	EventType EventType

	// Vault context
	VaultID string

	// Account context (nil for vault-wide events)
	AccountID *uuid.UUID

	// Versioned block time driving the operation (NOT wall-clock)
	Timestamp time.Time

	// Typed event payload, one of the structs below
	Payload any
}

// VaultEntered records a completed enter or re-enter operation.
type VaultEntered struct {
	Maturity          int64 `json:"maturity"`
	DepositUnderlying int64 `json:"deposit_underlying"`
	DebtBorrowed      int64 `json:"debt_borrowed"`
	CashFromBorrow    int64 `json:"cash_from_borrow"`
	SharesMinted      int64 `json:"shares_minted"`
	AccountDebt       int64 `json:"account_debt"`
	AccountShares     int64 `json:"account_shares"`
	CollateralRatio   int64 `json:"collateral_ratio"`
}

// VaultExited records a partial or full exit.
type VaultExited struct {
	Maturity       int64 `json:"maturity"`
	SharesRedeemed int64 `json:"shares_redeemed"`
	CashFromRedeem int64 `json:"cash_from_redeem"`
	DebtRepaid     int64 `json:"debt_repaid"`
	CashToAccount  int64 `json:"cash_to_account"`
	AccountDebt    int64 `json:"account_debt"`
	AccountShares  int64 `json:"account_shares"`
	FullExit       bool  `json:"full_exit"`
}

// PositionRolled records a position moved from one maturity to a later one.
type PositionRolled struct {
	FromMaturity    int64 `json:"from_maturity"`
	ToMaturity      int64 `json:"to_maturity"`
	DebtRepaid      int64 `json:"debt_repaid"`
	DebtBorrowed    int64 `json:"debt_borrowed"`
	SharesMoved     int64 `json:"shares_moved"`
	AccountDebt     int64 `json:"account_debt"`
	CollateralRatio int64 `json:"collateral_ratio"`
}

// MaturitySettled records the one-way vault-level settlement of a fixed
// maturity into the prime aggregate.
type MaturitySettled struct {
	Maturity            int64 `json:"maturity"`
	DebtMigrated        int64 `json:"debt_migrated"`
	SharesMigrated      int64 `json:"shares_migrated"`
	ShareConversionRate int64 `json:"share_conversion_rate"`
	DebtWriteDownRate   int64 `json:"debt_write_down_rate"`
}

// AccountSettled records one account's position converted into the prime
// maturity after its fixed maturity settled.
type AccountSettled struct {
	Maturity        int64 `json:"maturity"`
	PrimeDebt       int64 `json:"prime_debt"`
	PrimeShares     int64 `json:"prime_shares"`
	PrimeFeeCharged int64 `json:"prime_fee_charged"`
}

// AccountDeleveraged records a liquidator's bounded repayment of an
// undercollateralized position.
type AccountDeleveraged struct {
	Liquidator         uuid.UUID `json:"liquidator"`
	CurrencyIndex      int       `json:"currency_index"`
	DepositRepaid      int64     `json:"deposit_repaid"`
	SharesToLiquidator int64     `json:"shares_to_liquidator"`
	RemainingDebt      int64     `json:"remaining_debt"`
	CollateralRatio    int64     `json:"collateral_ratio"`
}

// ShortfallCovered records an insurance-pool draw against a settlement
// shortfall.
type ShortfallCovered struct {
	Maturity  int64 `json:"maturity"`
	Shortfall int64 `json:"shortfall"`
	Raised    int64 `json:"raised"`
}

// ProtocolInsolvency records a shortfall the insurance pool could not fully
// cover. Entries into the vault are paused when this fires.
type ProtocolInsolvency struct {
	Maturity  int64 `json:"maturity"`
	Shortfall int64 `json:"shortfall"`
	Raised    int64 `json:"raised"`
	Residual  int64 `json:"residual"`
}

// FeeAccrued records a borrow fee: assessed in cash and routed to the
// insurance pool at trade time, or added onto outstanding prime debt.
type FeeAccrued struct {
	Maturity     int64 `json:"maturity"`
	FeePaid      int64 `json:"fee_paid"`
	AnnualRate   int64 `json:"annual_rate"`
	InsuredValue int64 `json:"insured_value,omitempty"`
}
