package core

import (
	"context"
	"fmt"
	"time"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

// DeleverageRequest is a liquidator's bounded repayment of an
// undercollateralized position.
type DeleverageRequest struct {
	Liquidator uuid.UUID
	AccountID  uuid.UUID
	VaultID    string

	// CurrencyIndex selects the debt currency: 0 is the primary borrow
	// currency, 1.. the vault's secondary currencies.
	CurrencyIndex int

	// DepositUnderlying is the repayment the liquidator offers, in the
	// selected currency's internal precision, > 0. Capped at the computed
	// deleverage bound.
	DepositUnderlying int64

	BlockTime int64
}

// DeleverageResult reports the executed liquidation.
type DeleverageResult struct {
	Account            vault.VaultAccount
	DepositRepaid      int64
	SharesToLiquidator int64
	RemainingDebt      int64
}

// DeleverageAccount lets a third party repay part of an undercollateralized
// account's debt in exchange for vault shares at the liquidation discount.
// The repayment is bounded: the position may only be restored up to the
// deleverage collateral ratio, never seized outright. Shares move between
// the two accounts; vault share totals are unchanged.
func (e *Engine) DeleverageAccount(ctx context.Context, req DeleverageRequest) (DeleverageResult, error) {
	start := time.Now()
	res, err := e.deleverageAccount(ctx, req)
	e.observeOp("deleverage", start, err)
	return res, err
}

func (e *Engine) deleverageAccount(ctx context.Context, req DeleverageRequest) (DeleverageResult, error) {
	var zero DeleverageResult
	if req.DepositUnderlying <= 0 {
		return zero, fmt.Errorf("%w: deposit must be > 0", ErrNegativeCash)
	}
	if req.Liquidator == req.AccountID {
		return zero, fmt.Errorf("%w: cannot deleverage own account", ErrNotLiquidatable)
	}

	cfg, err := e.config(req.VaultID)
	if err != nil {
		return zero, err
	}
	if req.CurrencyIndex < 0 || req.CurrencyIndex > len(cfg.SecondaryCurrencyIDs) {
		return zero, fmt.Errorf("invalid currency index %d", req.CurrencyIndex)
	}

	if err := e.beginOp(req.VaultID, req.AccountID, req.Liquidator); err != nil {
		return zero, err
	}
	defer e.endOp(req.VaultID, req.AccountID, req.Liquidator)

	acct := e.Account(req.AccountID, req.VaultID)
	if acct.VaultShares == 0 {
		return zero, fmt.Errorf("%w: account holds no shares", ErrNotLiquidatable)
	}
	if acct.Maturity != vault.PrimeMaturity && req.BlockTime >= acct.Maturity {
		return zero, fmt.Errorf("%w: maturity %d has expired, settle instead", ErrInvalidMaturity, acct.Maturity)
	}

	// Outstanding prime fee is charged before the position is valued, so the
	// liquidator repays against the full debt.
	primeFee := accruePrimeDebtFee(&cfg, &acct, req.BlockTime)

	health, err := vault.AccountHealth(&cfg, &acct, e.rates, e.amm, e.strategy, req.BlockTime)
	if err != nil {
		return zero, err
	}

	// Exchange rate from primary into the selected debt currency.
	localDebt := acct.AccountDebtUnderlying
	exchangeRate := int64(fpmath.RatePrecision)
	if req.CurrencyIndex > 0 {
		localDebt = acct.SecondaryDebt[req.CurrencyIndex-1]
		exchangeRate, err = e.rates.ExchangeRate(cfg.BorrowCurrencyID, cfg.SecondaryCurrencyIDs[req.CurrencyIndex-1])
		if err != nil {
			return zero, fmt.Errorf("exchange rate: %w", err)
		}
	}

	maxDeposit := vault.DeleverageAmount(
		health.VaultShareValueUnderlying,
		health.TotalDebtOutstandingInPrimary,
		localDebt,
		cfg.MinAccountBorrowSize,
		exchangeRate,
		cfg.MaxDeleverageCollateralRatio,
		cfg.LiquidationRate,
	)
	if maxDeposit <= 0 {
		return zero, fmt.Errorf("%w: collateral ratio %d", ErrNotLiquidatable, health.CollateralRatio)
	}

	deposit := fpmath.Min(req.DepositUnderlying, maxDeposit)

	// A partial repayment must not strand debt below the minimum borrow size.
	remaining := -localDebt - deposit
	if remaining > 0 && remaining < cfg.MinAccountBorrowSize {
		return zero, fmt.Errorf("%w: remaining debt %d below minimum %d",
			ErrMustLiquidateFull, remaining, cfg.MinAccountBorrowSize)
	}

	// Shares owed at the liquidation discount, priced in the deposit
	// currency.
	shareValueLocal := fpmath.MulRate(health.VaultShareValueUnderlying, exchangeRate, fpmath.RoundDown)
	sharesToLiquidator := vault.VaultSharesToLiquidator(acct.VaultShares, cfg.LiquidationRate, shareValueLocal, deposit)
	if sharesToLiquidator <= 0 {
		return zero, fmt.Errorf("%w: deposit too small to transfer shares", ErrNotLiquidatable)
	}

	liq := e.Account(req.Liquidator, req.VaultID)
	if liq.Maturity != 0 && liq.Maturity != acct.Maturity && !liq.IsEmpty() {
		return zero, fmt.Errorf("%w: liquidator holds maturity %d", ErrMaturityMismatch, liq.Maturity)
	}
	// The liquidator's own touch-point moves too; charge its prime fee so the
	// interval is not skipped.
	primeFee += accruePrimeDebtFee(&cfg, &liq, req.BlockTime)

	if req.CurrencyIndex == 0 {
		acct.AccountDebtUnderlying = fpmath.ClampDebt(acct.AccountDebtUnderlying + deposit)
	} else {
		acct.SecondaryDebt[req.CurrencyIndex-1] = fpmath.ClampDebt(acct.SecondaryDebt[req.CurrencyIndex-1] + deposit)
	}
	acct.VaultShares -= sharesToLiquidator
	acct.LastUpdateTime = req.BlockTime

	liq.Maturity = acct.Maturity
	liq.VaultShares += sharesToLiquidator
	liq.LastUpdateTime = req.BlockTime

	// Repaid primary debt shrinks the aggregate, accrued fees grow it; share
	// totals are untouched since the shares changed hands inside the vault.
	state := e.State(req.VaultID, acct.Maturity)
	state.TotalDebtUnderlying -= primeFee
	if req.CurrencyIndex == 0 {
		state.TotalDebtUnderlying = fpmath.ClampDebt(state.TotalDebtUnderlying + deposit)
	}

	if err := e.commit([]vault.VaultAccount{acct, liq}, []vault.VaultState{state}); err != nil {
		return zero, err
	}

	remainingDebt := acct.AccountDebtUnderlying
	if req.CurrencyIndex > 0 {
		remainingDebt = acct.SecondaryDebt[req.CurrencyIndex-1]
	}

	e.logger.Info().
		Str("vault", req.VaultID).
		Str("account", req.AccountID.String()).
		Str("liquidator", req.Liquidator.String()).
		Int("currency_index", req.CurrencyIndex).
		Int64("deposit", deposit).
		Int64("shares_to_liquidator", sharesToLiquidator).
		Int64("remaining_debt", remainingDebt).
		Msg("account deleveraged")
	if e.metrics != nil {
		e.metrics.Deleverages.WithLabelValues(req.VaultID).Inc()
	}

	accountID := req.AccountID
	e.emit(event.EventTypeAccountDeleveraged, req.VaultID, &accountID, req.BlockTime, event.AccountDeleveraged{
		Liquidator:         req.Liquidator,
		CurrencyIndex:      req.CurrencyIndex,
		DepositRepaid:      deposit,
		SharesToLiquidator: sharesToLiquidator,
		RemainingDebt:      remainingDebt,
		CollateralRatio:    health.CollateralRatio,
	}, []vault.VaultAccount{acct, liq}, []vault.VaultState{state})

	return DeleverageResult{
		Account:            acct,
		DepositRepaid:      deposit,
		SharesToLiquidator: sharesToLiquidator,
		RemainingDebt:      remainingDebt,
	}, nil
}
