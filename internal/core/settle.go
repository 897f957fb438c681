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

// SettleVault performs the one-way settlement of a fixed maturity: the
// aggregate debt is converted into the prime ledger, share totals migrate
// (converting counts when the strategy requires it), and a pooled shortfall
// is covered from the insurance pool. A shortfall the pool cannot fully cover
// pauses new entries and raises a ProtocolInsolvency event.
//
// Idempotent: settling an already settled maturity is a no-op.
func (e *Engine) SettleVault(ctx context.Context, vaultID string, maturity int64, blockTime int64) error {
	start := time.Now()
	err := e.settleVault(ctx, vaultID, maturity, blockTime)
	e.observeOp("settle_vault", start, err)
	return err
}

func (e *Engine) settleVault(ctx context.Context, vaultID string, maturity int64, blockTime int64) error {
	cfg, err := e.config(vaultID)
	if err != nil {
		return err
	}
	if maturity == vault.PrimeMaturity {
		return fmt.Errorf("%w: prime maturity never settles", ErrInvalidMaturity)
	}
	if blockTime < maturity {
		return fmt.Errorf("%w: maturity %d has not expired at %d", ErrInvalidMaturity, maturity, blockTime)
	}

	if err := e.beginOp(vaultID); err != nil {
		return err
	}
	defer e.endOp(vaultID)

	return e.settleMaturity(ctx, &cfg, maturity, blockTime)
}

// settleMaturity carries out the settlement with the vault already marked in
// flight by the caller.
func (e *Engine) settleMaturity(ctx context.Context, cfg *vault.VaultConfig, maturity int64, blockTime int64) error {
	vaultID := cfg.VaultID
	state := e.State(vaultID, maturity)
	if state.IsSettled {
		return nil
	}

	// Convert the aggregate fixed debt into its settled underlying value.
	primeDebt := int64(0)
	var err error
	if state.TotalDebtUnderlying < 0 {
		primeDebt, err = e.rates.ConvertDebtStorageToUnderlying(cfg.BorrowCurrencyID, maturity, state.TotalDebtUnderlying)
		if err != nil {
			return fmt.Errorf("settlement conversion: %w", err)
		}
		primeDebt = fpmath.ClampDebt(primeDebt)
	}

	// Convert share counts when fixed and prime shares are not fungible. The
	// conversion rate is recorded so accounts settling later apply the same
	// rate.
	primeShares := state.TotalVaultShares
	conversionRate := int64(fpmath.RatePrecision)
	if cfg.Capabilities.RequiresSettlementConversion && state.TotalVaultShares > 0 {
		primeShares, err = e.strategy.ConvertSharesToPrime(ctx, vaultID, maturity, state.TotalVaultShares)
		if err != nil {
			return fmt.Errorf("share conversion: %w", err)
		}
		conversionRate = fpmath.RateDiv(primeShares, state.TotalVaultShares, fpmath.RoundDown)
		if conversionRate <= 0 {
			return fmt.Errorf("share conversion produced rate %d", conversionRate)
		}
	}

	// Pooled solvency check: the strategy must be worth at least the settled
	// debt. Any gap is drawn from the insurance pool before it becomes a
	// protocol liability.
	var pooledValue int64
	if primeShares > 0 {
		pooledValue, err = e.strategy.ConvertStrategyToUnderlying(vaultID, uuid.Nil, primeShares, vault.PrimeMaturity)
		if err != nil {
			return fmt.Errorf("pooled valuation: %w", err)
		}
	}

	// An insurance draw retires migrated debt pro rata across the maturity's
	// accounts. The surviving fraction is pinned on the settled record so
	// each account's later conversion applies the same write-down, keeping
	// the per-account sum in step with the aggregate. Rounds up: accounts
	// retain the rounding dust as debt.
	var shortfall, raised int64
	writeDownRate := int64(fpmath.RatePrecision)
	if pooledValue < -primeDebt {
		shortfall = -primeDebt - pooledValue
		raised, err = e.insurance.RedeemToCoverShortfall(ctx, cfg.BorrowCurrencyID, shortfall)
		if err != nil {
			return fmt.Errorf("insurance redemption: %w", err)
		}
		retained := fpmath.ClampDebt(primeDebt + raised)
		if primeDebt < 0 {
			writeDownRate = fpmath.RateDiv(retained, primeDebt, fpmath.RoundUp)
			if writeDownRate > fpmath.RatePrecision {
				writeDownRate = fpmath.RatePrecision
			}
		}
		primeDebt = retained
	}

	prime := e.State(vaultID, vault.PrimeMaturity)
	prime.TotalDebtUnderlying = fpmath.ClampDebt(prime.TotalDebtUnderlying + primeDebt)
	prime.TotalVaultShares += primeShares

	e.mu.Lock()
	if err := e.states.MarkSettled(vaultID, maturity, conversionRate, writeDownRate); err != nil {
		e.mu.Unlock()
		return err
	}
	settled := e.states.Get(vaultID, maturity)
	if err := e.states.Put(prime); err != nil {
		e.mu.Unlock()
		return err
	}
	e.updateVaultGauges(settled)
	e.updateVaultGauges(prime)
	e.mu.Unlock()

	e.logger.Info().
		Str("vault", vaultID).
		Int64("maturity", maturity).
		Int64("debt_migrated", primeDebt).
		Int64("shares_migrated", primeShares).
		Int64("shortfall", shortfall).
		Int64("raised", raised).
		Msg("maturity settled")

	e.emit(event.EventTypeMaturitySettled, vaultID, nil, blockTime, event.MaturitySettled{
		Maturity:            maturity,
		DebtMigrated:        primeDebt,
		SharesMigrated:      primeShares,
		ShareConversionRate: conversionRate,
		DebtWriteDownRate:   writeDownRate,
	}, nil, []vault.VaultState{settled, prime})

	if shortfall > 0 {
		e.emit(event.EventTypeShortfallCovered, vaultID, nil, blockTime, event.ShortfallCovered{
			Maturity:  maturity,
			Shortfall: shortfall,
			Raised:    raised,
		}, nil, nil)
	}

	if raised < shortfall {
		residual := shortfall - raised
		e.mu.Lock()
		pauseErr := e.registry.PauseEntries(vaultID)
		e.mu.Unlock()
		if pauseErr != nil {
			return pauseErr
		}
		e.logger.Error().
			Str("vault", vaultID).
			Int64("maturity", maturity).
			Int64("residual", residual).
			Msg("insurance pool exhausted, vault entries paused")
		if e.metrics != nil {
			e.metrics.InsolvencyEvents.WithLabelValues(vaultID).Inc()
		}
		e.emit(event.EventTypeProtocolInsolvency, vaultID, nil, blockTime, event.ProtocolInsolvency{
			Maturity:  maturity,
			Shortfall: shortfall,
			Raised:    raised,
			Residual:  residual,
		}, nil, nil)
	}

	return nil
}

// SettleVaultAccount converts one account's position out of an expired fixed
// maturity into the prime ledger: fixed debt at the settlement conversion and
// the recorded write-down, share counts at the recorded conversion rate, plus
// the variable-rate fee for the span since the maturity expired. Settles the
// maturity itself first when no one has yet.
func (e *Engine) SettleVaultAccount(ctx context.Context, accountID uuid.UUID, vaultID string, blockTime int64) (vault.VaultAccount, error) {
	start := time.Now()
	acct, err := e.settleVaultAccount(ctx, accountID, vaultID, blockTime)
	e.observeOp("settle_account", start, err)
	return acct, err
}

func (e *Engine) settleVaultAccount(ctx context.Context, accountID uuid.UUID, vaultID string, blockTime int64) (vault.VaultAccount, error) {
	var zero vault.VaultAccount

	cfg, err := e.config(vaultID)
	if err != nil {
		return zero, err
	}

	if err := e.beginOp(vaultID, accountID); err != nil {
		return zero, err
	}
	defer e.endOp(vaultID, accountID)

	acct := e.Account(accountID, vaultID)
	if acct.Maturity == 0 || acct.Maturity == vault.PrimeMaturity {
		return zero, fmt.Errorf("%w: account holds no fixed-maturity position", ErrInvalidMaturity)
	}

	state := e.State(vaultID, acct.Maturity)
	if !state.IsSettled {
		if blockTime < acct.Maturity {
			return zero, fmt.Errorf("%w: vault %s maturity %d", ErrNotSettled, vaultID, acct.Maturity)
		}
		// Permissionless and idempotent, so the first account to settle
		// after expiry carries the maturity with it.
		if err := e.settleMaturity(ctx, &cfg, acct.Maturity, blockTime); err != nil {
			return zero, err
		}
		state = e.State(vaultID, acct.Maturity)
	}

	maturity := acct.Maturity

	if acct.AccountDebtUnderlying < 0 {
		converted, err := e.rates.ConvertDebtStorageToUnderlying(cfg.BorrowCurrencyID, maturity, acct.AccountDebtUnderlying)
		if err != nil {
			return zero, fmt.Errorf("settlement conversion: %w", err)
		}
		// The write-down mirrors the insurance draw applied to the aggregate
		// at settlement. Rounds down: the account keeps the dust as debt.
		converted = fpmath.MulRate(converted, state.DebtWriteDownRate, fpmath.RoundDown)
		acct.AccountDebtUnderlying = fpmath.ClampDebt(converted)
	}
	for i, currency := range cfg.SecondaryCurrencyIDs {
		if acct.SecondaryDebt[i] >= 0 {
			continue
		}
		converted, err := e.rates.ConvertDebtStorageToUnderlying(currency, maturity, acct.SecondaryDebt[i])
		if err != nil {
			return zero, fmt.Errorf("settlement conversion: %w", err)
		}
		acct.SecondaryDebt[i] = fpmath.ClampDebt(converted)
	}

	// Variable-rate fee for the span between expiry and this conversion. The
	// fixed-term fee paid at entry covered the account only up to maturity.
	fee := borrowFee(-acct.AccountDebtUnderlying, cfg.FeeRate.AnnualBaseRate, blockTime-maturity)
	acct.AccountDebtUnderlying -= fee

	acct.VaultShares = fpmath.MulRate(acct.VaultShares, state.ShareConversionRate, fpmath.RoundDown)
	acct.Maturity = vault.PrimeMaturity
	acct.LastUpdateTime = blockTime

	var states []vault.VaultState
	if fee > 0 {
		prime := e.State(vaultID, vault.PrimeMaturity)
		prime.TotalDebtUnderlying -= fee
		states = append(states, prime)
	}

	if err := e.commit([]vault.VaultAccount{acct}, states); err != nil {
		return zero, err
	}

	e.logger.Info().
		Str("vault", vaultID).
		Str("account", accountID.String()).
		Int64("maturity", maturity).
		Int64("prime_debt", acct.AccountDebtUnderlying).
		Int64("prime_shares", acct.VaultShares).
		Int64("prime_fee", fee).
		Msg("account settled")

	e.emit(event.EventTypeAccountSettled, vaultID, &accountID, blockTime, event.AccountSettled{
		Maturity:        maturity,
		PrimeDebt:       acct.AccountDebtUnderlying,
		PrimeShares:     acct.VaultShares,
		PrimeFeeCharged: fee,
	}, []vault.VaultAccount{acct}, states)

	return acct, nil
}

// AccruePrimeFee charges the variable-rate borrow fee on every prime
// position of a vault for the time elapsed since each account's last
// touch-point. Purely additive to debt: each account's fee lands on its own
// record and the sum lands on the prime aggregate, no cash moves. The
// protocol's claim is collected when the debt is repaid.
func (e *Engine) AccruePrimeFee(ctx context.Context, vaultID string, blockTime int64) (int64, error) {
	start := time.Now()
	fee, err := e.accruePrimeFeeAll(ctx, vaultID, blockTime)
	e.observeOp("accrue_prime_fee", start, err)
	return fee, err
}

func (e *Engine) accruePrimeFeeAll(_ context.Context, vaultID string, blockTime int64) (int64, error) {
	cfg, err := e.config(vaultID)
	if err != nil {
		return 0, err
	}

	if err := e.beginOp(vaultID); err != nil {
		return 0, err
	}
	defer e.endOp(vaultID)

	e.mu.Lock()
	accts := e.accounts.ForVaultMaturity(vaultID, vault.PrimeMaturity)
	e.mu.Unlock()

	annualRate := cfg.FeeRate.AnnualBaseRate
	var totalFee int64
	dirty := make([]vault.VaultAccount, 0, len(accts))
	for _, acct := range accts {
		fee := accruePrimeDebtFee(&cfg, &acct, blockTime)
		if fee == 0 {
			continue
		}
		acct.LastUpdateTime = blockTime
		totalFee += fee
		dirty = append(dirty, acct)
	}
	if totalFee == 0 {
		return 0, nil
	}

	prime := e.State(vaultID, vault.PrimeMaturity)
	prime.TotalDebtUnderlying -= totalFee
	if err := e.commit(dirty, []vault.VaultState{prime}); err != nil {
		return 0, err
	}

	e.emit(event.EventTypeFeeAccrued, vaultID, nil, blockTime, event.FeeAccrued{
		Maturity:   vault.PrimeMaturity,
		FeePaid:    totalFee,
		AnnualRate: annualRate,
	}, dirty, []vault.VaultState{prime})

	return totalFee, nil
}
