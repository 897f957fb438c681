package vault

import (
	"fmt"
	"math"

	"VaultLedger/internal/external"
	fpmath "VaultLedger/internal/math"
)

// CollateralRatioInfinite is the sentinel returned when net debt is zero or
// positive (fully repaid or overpaid).
const CollateralRatioInfinite int64 = math.MaxInt64

// DefaultDebtRateBuffer is subtracted from the oracle rate when discounting
// debt for valuation, so liquidators are not penalized by mark-to-market
// discount effects. 50bp annualized.
const DefaultDebtRateBuffer = 50 * fpmath.BasisPoint

// HealthFactors is the ephemeral valuation of one position. Computed per
// call, never persisted.
type HealthFactors struct {
	VaultShareValueUnderlying int64

	// DebtOutstanding holds the present value of debt per currency in local
	// terms: index 0 is the primary borrow currency, 1.. the secondaries.
	// All values <= 0.
	DebtOutstanding [1 + MaxSecondaryCurrencies]int64

	// TotalDebtOutstandingInPrimary sums all debt converted to the primary
	// currency. <= 0.
	TotalDebtOutstandingInPrimary int64

	CollateralRatio int64
}

// CollateralRatio computes (shareValue + netDebt) / (-netDebt),
// RatePrecision-scaled. netDebt <= 0. Rounds down: understating health is
// the conservative direction for every caller.
func CollateralRatio(shareValueUnderlying, netDebtUnderlying int64) int64 {
	if netDebtUnderlying >= 0 {
		return CollateralRatioInfinite
	}
	equity := shareValueUnderlying + netDebtUnderlying
	return fpmath.RateDiv(equity, -netDebtUnderlying, fpmath.RoundDown)
}

// MinimumCollateralRatio derives the entry bound from the leverage cap.
// With leverage L = assets/equity = 1 + 1/cr, L <= maxLeverage is equivalent
// to cr >= 1 / (maxLeverage - 1).
func MinimumCollateralRatio(maxLeverageRatio int64) int64 {
	return fpmath.MulDiv(fpmath.RatePrecision, fpmath.RatePrecision,
		maxLeverageRatio-fpmath.RatePrecision, fpmath.RoundUp)
}

// LeverageRatio computes assets/equity, RatePrecision-scaled. Rounds up so a
// position exactly at the cap with rounding dust still passes the comparison
// against MinimumCollateralRatio-derived bounds consistently.
func LeverageRatio(shareValueUnderlying, netDebtUnderlying int64) int64 {
	if netDebtUnderlying >= 0 {
		return fpmath.RatePrecision
	}
	equity := shareValueUnderlying + netDebtUnderlying
	if equity <= 0 {
		return math.MaxInt64
	}
	return fpmath.RateDiv(shareValueUnderlying, equity, fpmath.RoundUp)
}

// PresentValueOfDebt values a debt balance in underlying internal precision.
// At or after maturity the settlement conversion applies; before maturity
// the debt is discounted at (oracle rate - buffer, floored at 0) when
// discounting is enabled, otherwise valued at face. Prime debt is always at
// its current value. Rounds down (more negative): debt is owed by the
// account.
func PresentValueOfDebt(
	rates external.RateConverter,
	amm external.Amm,
	currency external.CurrencyID,
	maturity int64,
	debtUnderlying int64,
	blockTime int64,
	discountEnabled bool,
) (int64, error) {
	if debtUnderlying >= 0 {
		return debtUnderlying, nil
	}

	if maturity == PrimeMaturity {
		return debtUnderlying, nil
	}

	if blockTime >= maturity {
		pv, err := rates.ConvertDebtStorageToUnderlying(currency, maturity, debtUnderlying)
		if err != nil {
			return 0, fmt.Errorf("settlement conversion: %w", err)
		}
		return fpmath.ClampDebt(pv), nil
	}

	if !discountEnabled {
		return debtUnderlying, nil
	}

	rate, err := amm.OracleRate(currency, maturity)
	if err != nil {
		return 0, fmt.Errorf("oracle rate: %w", err)
	}
	rate -= DefaultDebtRateBuffer
	if rate < 0 {
		rate = 0
	}

	// pv = debt / (1 + rate * t/year), annualized simple discount.
	timeToMaturity := maturity - blockTime
	denom := fpmath.RatePrecision + fpmath.MulDiv(rate, timeToMaturity, fpmath.SecondsPerYear, fpmath.RoundDown)
	return fpmath.MulDiv(debtUnderlying, fpmath.RatePrecision, denom, fpmath.RoundDown), nil
}

// DeleverageAmount computes the maximum deposit a liquidator may use to
// repay an account's local-currency debt, in local internal precision.
//
// Solving the post-liquidation collateral ratio equation
//
//	(v - X*lr + D + X) / -(D + X) = target
//
// for the deposit X (v = share value, D = total debt <= 0, lr = liquidation
// rate, target = maxDeleverageCollateralRatio, all in primary terms) gives
//
//	X = (-D*(1 + target) - v) / (1 + target - lr)
//
// The result is then floored so remaining local debt is zero or at least
// minBorrowLocal, and capped so the liquidator cannot claim more share value
// than the account holds. Returns 0 when the account's collateral ratio is
// already at or above the target. exchangeRate converts primary into local
// (RatePrecision-scaled).
func DeleverageAmount(
	shareValueUnderlying int64,
	totalDebtPrimary int64,
	localDebt int64,
	minBorrowLocal int64,
	exchangeRate int64,
	maxDeleverageCollateralRatio int64,
	liquidationRate int64,
) int64 {
	if localDebt >= 0 {
		return 0
	}
	cr := CollateralRatio(shareValueUnderlying, totalDebtPrimary)
	if cr >= maxDeleverageCollateralRatio {
		return 0
	}

	// Deposit bound in primary terms. Denominator is positive by the config
	// invariant liquidationRate < maxDeleverageCollateralRatio + 1.0.
	num := fpmath.MulRate(-totalDebtPrimary, fpmath.RatePrecision+maxDeleverageCollateralRatio, fpmath.RoundDown) -
		shareValueUnderlying
	denom := fpmath.RatePrecision + maxDeleverageCollateralRatio - liquidationRate
	maxDepositPrimary := fpmath.RateDiv(num, denom, fpmath.RoundDown)
	if maxDepositPrimary <= 0 {
		return 0
	}

	deposit := fpmath.MulRate(maxDepositPrimary, exchangeRate, fpmath.RoundDown)

	// Never repay past the local debt.
	if deposit > -localDebt {
		deposit = -localDebt
	}

	// Dust floor: a liquidation must not strand a below-minimum position.
	remaining := -localDebt - deposit
	if remaining > 0 && remaining < minBorrowLocal {
		deposit = -localDebt
	}

	// The liquidator's claim, deposit * liquidationRate, cannot exceed the
	// account's share value.
	shareValueLocal := fpmath.MulRate(shareValueUnderlying, exchangeRate, fpmath.RoundDown)
	maxFromShares := fpmath.DivRate(shareValueLocal, liquidationRate, fpmath.RoundDown)
	if deposit > maxFromShares {
		deposit = maxFromShares
	}

	return fpmath.ClampToZero(deposit)
}

// VaultSharesToLiquidator allocates collateral shares proportionally to the
// liquidator's deposit at the liquidation discount:
//
//	shares * liquidationRate * deposit / (shareValue * RatePrecision)
//
// rounded down; the residual dust stays with the liquidated account.
// deposit and shareValue are in the same (primary underlying) terms.
func VaultSharesToLiquidator(shares, liquidationRate, shareValueUnderlying, deposit int64) int64 {
	if shareValueUnderlying <= 0 || deposit <= 0 || shares <= 0 {
		return 0
	}
	out := fpmath.MulDiv3(shares, liquidationRate, deposit, shareValueUnderlying, fpmath.RoundDown)
	out = fpmath.MulDiv(out, 1, fpmath.RatePrecision, fpmath.RoundDown)
	if out > shares {
		out = shares
	}
	return out
}

// AccountHealth computes the full health factors of a position: strategy
// share value, per-currency debt present values and the collateral ratio in
// primary terms. Pure over the snapshot; no store mutation.
func AccountHealth(
	cfg *VaultConfig,
	acct *VaultAccount,
	rates external.RateConverter,
	amm external.Amm,
	strategy external.Strategy,
	blockTime int64,
) (HealthFactors, error) {
	var h HealthFactors

	if acct.VaultShares > 0 {
		value, err := strategy.ConvertStrategyToUnderlying(cfg.VaultID, acct.AccountID, acct.VaultShares, acct.Maturity)
		if err != nil {
			return h, fmt.Errorf("strategy valuation: %w", err)
		}
		h.VaultShareValueUnderlying = value
	}

	pv, err := PresentValueOfDebt(rates, amm, cfg.BorrowCurrencyID, acct.Maturity,
		acct.AccountDebtUnderlying, blockTime, cfg.Capabilities.EnableFCashDiscounting)
	if err != nil {
		return h, err
	}
	h.DebtOutstanding[0] = pv
	h.TotalDebtOutstandingInPrimary = pv

	for i, currency := range cfg.SecondaryCurrencyIDs {
		debt := acct.SecondaryDebt[i]
		if debt == 0 {
			continue
		}
		pv, err := PresentValueOfDebt(rates, amm, currency, acct.Maturity, debt, blockTime,
			cfg.Capabilities.EnableFCashDiscounting)
		if err != nil {
			return h, err
		}
		h.DebtOutstanding[1+i] = pv

		rate, err := rates.ExchangeRate(currency, cfg.BorrowCurrencyID)
		if err != nil {
			return h, fmt.Errorf("exchange rate %d->%d: %w", currency, cfg.BorrowCurrencyID, err)
		}
		// Debt converted to primary rounds down (more negative).
		h.TotalDebtOutstandingInPrimary += fpmath.MulRate(pv, rate, fpmath.RoundDown)
	}

	h.CollateralRatio = CollateralRatio(h.VaultShareValueUnderlying, h.TotalDebtOutstandingInPrimary)
	return h, nil
}

// CheckEntryCollateralRatio enforces the post-operation leverage bound for
// enter/roll: the collateral ratio must not be worse than the bound implied
// by MaxLeverageRatio.
func CheckEntryCollateralRatio(cfg *VaultConfig, h HealthFactors) error {
	minCR := MinimumCollateralRatio(cfg.MaxLeverageRatio)
	if h.CollateralRatio < minCR {
		return fmt.Errorf("collateral ratio %d below minimum %d (max leverage %d)",
			h.CollateralRatio, minCR, cfg.MaxLeverageRatio)
	}
	return nil
}
