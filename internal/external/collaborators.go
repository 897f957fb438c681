// Package external defines the contracts of the collaborators the vault
// engine calls out to. Their implementations (AMM curve, strategy investment
// logic, oracle feeds, token transfers) live outside this repository; the
// engine only depends on these narrow interfaces.
package external

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// CurrencyID identifies a listed currency. Numeric for cache-friendly keys.
type CurrencyID uint16

var (
	// ErrRateLimitExceeded is returned by the AMM when the realized trade
	// rate violates the caller's rate limit.
	ErrRateLimitExceeded = errors.New("amm: realized rate exceeds rate limit")

	// ErrCurrencyNotConfigured is returned by the rate converter when no
	// conversion is configured for a currency.
	ErrCurrencyNotConfigured = errors.New("rates: currency not configured")
)

// Amm executes fixed-rate lend/borrow trades against the money market.
type Amm interface {
	// ExecuteTrade trades netDebtUnits of debt at the given maturity.
	// Negative netDebtUnits borrows (cash is received), positive lends
	// (cash is paid). Returns the executed cash amount in underlying
	// internal precision. A zero cashAmount signals no liquidity; callers
	// must treat it as a valid fallback condition, not an error. Returns
	// ErrRateLimitExceeded when the realized rate violates rateLimit.
	ExecuteTrade(ctx context.Context, currency CurrencyID, maturity int64, netDebtUnits int64, rateLimit int64) (cashAmount int64, err error)

	// OracleRate returns the annualized oracle rate (RatePrecision-scaled)
	// for the cash group at the given maturity.
	OracleRate(currency CurrencyID, maturity int64) (int64, error)
}

// RateConverter converts between debt storage units, underlying value and
// prime (variable-rate) accounting. Conversions are pure; they fail only on
// configuration absence.
type RateConverter interface {
	// ConvertToUnderlying values a prime debt or cash balance in underlying
	// internal precision.
	ConvertToUnderlying(currency CurrencyID, primeUnits int64) (int64, error)

	// ConvertFromUnderlying converts an underlying value into prime units.
	ConvertFromUnderlying(currency CurrencyID, underlying int64) (int64, error)

	// ConvertDebtStorageToUnderlying values fixed-term debt at or after its
	// maturity, i.e. the settlement conversion into the variable-rate ledger.
	ConvertDebtStorageToUnderlying(currency CurrencyID, maturity int64, debtUnits int64) (int64, error)

	// ExchangeRate returns the RatePrecision-scaled rate converting one unit
	// of base into quote.
	ExchangeRate(base, quote CurrencyID) (int64, error)
}

// Strategy is the external contract custodying vault collateral. Deposits and
// redemptions may suffer slippage; callers must use the returned values, never
// an estimate.
type Strategy interface {
	// ConvertStrategyToUnderlying reports the underlying value of a share
	// count at a maturity. Account uuid.Nil queries the pooled aggregate.
	ConvertStrategyToUnderlying(vaultID string, account uuid.UUID, shares int64, maturity int64) (int64, error)

	// Deposit invests cash and mints vault shares for the account.
	Deposit(ctx context.Context, vaultID string, account uuid.UUID, cash int64, maturity int64, data []byte) (sharesMinted int64, err error)

	// Redeem burns vault shares and returns cash to the engine.
	Redeem(ctx context.Context, vaultID string, account uuid.UUID, shares int64, maturity int64, data []byte) (cashReturned int64, err error)

	// ConvertSharesToPrime converts a fixed-maturity share count into the
	// equivalent prime-maturity share count. Only called for vaults whose
	// shares are not fungible across maturities.
	ConvertSharesToPrime(ctx context.Context, vaultID string, maturity int64, shares int64) (primeShares int64, err error)
}

// Insurance is the protocol-owned backstop pool. Fees assessed on vault
// borrows fund it; settlement shortfalls drain it.
type Insurance interface {
	// PayFee routes a protocol fee into the pool and returns the resulting
	// insured value.
	PayFee(ctx context.Context, currency CurrencyID, amount int64) (insuredValue int64, err error)

	// RedeemToCoverShortfall raises up to amount from the pool. The raised
	// value may be less than requested; callers must handle the residual.
	RedeemToCoverShortfall(ctx context.Context, currency CurrencyID, amount int64) (raised int64, err error)
}
