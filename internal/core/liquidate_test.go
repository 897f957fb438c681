package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/external"
	"VaultLedger/internal/vault"
)

// setupUnderwater enters a position at 5x and then collapses the share price
// to 0.72, leaving 900 of collateral value against 1000 of debt.
func setupUnderwater(t *testing.T, engine *core.Engine, deps *testDeps) uuid.UUID {
	t.Helper()
	accountID := uuid.New()
	if _, err := engine.EnterVault(context.Background(), enterRequest(accountID)); err != nil {
		t.Fatalf("setup enter failed: %v", err)
	}
	deps.strategy.SharePrice = 720_000_000
	return accountID
}

func TestDeleverageAccount(t *testing.T) {
	engine, deps, persistChan := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := setupUnderwater(t, engine, deps)
	liquidator := uuid.New()
	drainEvents(persistChan)

	res, err := engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator:        liquidator,
		AccountID:         accountID,
		VaultID:           "vault-eth",
		CurrencyIndex:     0,
		DepositUnderlying: 150 * unit,
		BlockTime:         blockTime + 100,
	})
	if err != nil {
		t.Fatalf("DeleverageAccount failed: %v", err)
	}

	if res.DepositRepaid != 150*unit {
		t.Errorf("deposit: expected %d, got %d", 150*unit, res.DepositRepaid)
	}
	if res.RemainingDebt != -850*unit {
		t.Errorf("remaining debt: expected %d, got %d", -850*unit, res.RemainingDebt)
	}
	// 1250 shares * 1.04 * 150 / 900 = 216.66.. shares at the discount.
	wantShares := int64(21_666_666_666)
	if res.SharesToLiquidator != wantShares {
		t.Errorf("shares to liquidator: expected %d, got %d", wantShares, res.SharesToLiquidator)
	}

	// Shares changed hands inside the vault: totals unchanged, debt reduced.
	liq := engine.Account(liquidator, "vault-eth")
	if liq.VaultShares != wantShares {
		t.Errorf("liquidator shares: expected %d, got %d", wantShares, liq.VaultShares)
	}
	if liq.Maturity != maturity1 {
		t.Errorf("liquidator maturity: expected %d, got %d", maturity1, liq.Maturity)
	}
	acct := engine.Account(accountID, "vault-eth")
	if acct.VaultShares+liq.VaultShares != 1250*unit {
		t.Errorf("share conservation broken: %d + %d", acct.VaultShares, liq.VaultShares)
	}
	state := engine.State("vault-eth", maturity1)
	if state.TotalVaultShares != 1250*unit {
		t.Errorf("vault share total changed: %d", state.TotalVaultShares)
	}
	if state.TotalDebtUnderlying != -850*unit {
		t.Errorf("vault debt: expected %d, got %d", -850*unit, state.TotalDebtUnderlying)
	}

	events := drainEvents(persistChan)
	if len(events) != 1 || events[0].EventType != event.EventTypeAccountDeleveraged {
		t.Fatalf("expected one AccountDeleveraged event, got %+v", events)
	}
}

func TestDeleverageAccount_CapsAtShareValueClaim(t *testing.T) {
	engine, deps, _ := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := setupUnderwater(t, engine, deps)

	// The formula allows repaying the full 1000 debt, but the liquidator's
	// claim is capped by the 900 of share value at the 4% discount:
	// floor(900 / 1.04) = 865.38.
	res, err := engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator:        uuid.New(),
		AccountID:         accountID,
		VaultID:           "vault-eth",
		DepositUnderlying: 2000 * unit,
		BlockTime:         blockTime + 100,
	})
	if err != nil {
		t.Fatalf("DeleverageAccount failed: %v", err)
	}
	if res.DepositRepaid != 86_538_461_538 {
		t.Errorf("deposit: expected 86538461538, got %d", res.DepositRepaid)
	}
}

func TestDeleverageAccount_Validation(t *testing.T) {
	engine, deps, _ := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := setupUnderwater(t, engine, deps)

	// Self-liquidation.
	_, err := engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator: accountID, AccountID: accountID, VaultID: "vault-eth",
		DepositUnderlying: 100 * unit, BlockTime: blockTime + 100,
	})
	if !errors.Is(err, core.ErrNotLiquidatable) {
		t.Errorf("self-liquidation: expected ErrNotLiquidatable, got %v", err)
	}

	// Non-positive deposit.
	_, err = engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator: uuid.New(), AccountID: accountID, VaultID: "vault-eth",
		DepositUnderlying: 0, BlockTime: blockTime + 100,
	})
	if !errors.Is(err, core.ErrNegativeCash) {
		t.Errorf("zero deposit: expected ErrNegativeCash, got %v", err)
	}

	// Currency index outside the configured range.
	_, err = engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator: uuid.New(), AccountID: accountID, VaultID: "vault-eth",
		CurrencyIndex: 1, DepositUnderlying: 100 * unit, BlockTime: blockTime + 100,
	})
	if err == nil {
		t.Error("expected invalid currency index error")
	}

	// Expired positions settle, they are not liquidated.
	_, err = engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator: uuid.New(), AccountID: accountID, VaultID: "vault-eth",
		DepositUnderlying: 100 * unit, BlockTime: maturity1,
	})
	if !errors.Is(err, core.ErrInvalidMaturity) {
		t.Errorf("expired: expected ErrInvalidMaturity, got %v", err)
	}
}

func TestDeleverageAccount_HealthyAccountRefused(t *testing.T) {
	engine, _, _ := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := engine.EnterVault(ctx, enterRequest(accountID)); err != nil {
		t.Fatal(err)
	}

	_, err := engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator: uuid.New(), AccountID: accountID, VaultID: "vault-eth",
		DepositUnderlying: 100 * unit, BlockTime: blockTime + 100,
	})
	if !errors.Is(err, core.ErrNotLiquidatable) {
		t.Errorf("healthy account: expected ErrNotLiquidatable, got %v", err)
	}
}

func TestDeleverageAccount_MustLiquidateFull(t *testing.T) {
	cfg := testVaultConfig()
	// A high minimum borrow size forces the share-value-capped repayment to
	// strand a below-minimum residual.
	cfg.MinAccountBorrowSize = 150 * unit
	engine, deps, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	accountID := setupUnderwater(t, engine, deps)

	// Capped deposit 865.38 would leave 134.61 of debt, under the minimum.
	_, err := engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator: uuid.New(), AccountID: accountID, VaultID: "vault-eth",
		DepositUnderlying: 2000 * unit, BlockTime: blockTime + 100,
	})
	if !errors.Is(err, core.ErrMustLiquidateFull) {
		t.Errorf("expected ErrMustLiquidateFull, got %v", err)
	}
}

func TestDeleverageAccount_LiquidatorMaturityMismatch(t *testing.T) {
	engine, deps, _ := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	liquidator := uuid.New()

	// The liquidator holds a live position in a different maturity.
	liqEnter := enterRequest(liquidator)
	liqEnter.Maturity = maturity2
	if _, err := engine.EnterVault(ctx, liqEnter); err != nil {
		t.Fatal(err)
	}

	accountID := setupUnderwater(t, engine, deps)

	_, err := engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator: liquidator, AccountID: accountID, VaultID: "vault-eth",
		DepositUnderlying: 150 * unit, BlockTime: blockTime + 100,
	})
	if !errors.Is(err, core.ErrMaturityMismatch) {
		t.Errorf("expected ErrMaturityMismatch, got %v", err)
	}
}

func TestDeleverageAccount_SecondaryCurrency(t *testing.T) {
	cfg := testVaultConfig()
	cfg.SecondaryCurrencyIDs = []external.CurrencyID{2}
	cfg.Capabilities.HasSecondaryBorrows = true
	engine, deps, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	// One secondary unit is worth half a primary unit.
	deps.rates.FX = map[[2]external.CurrencyID]int64{
		{2, 1}: 500_000_000,
		{1, 2}: 2_000_000_000,
	}
	deps.strategy.SharePrice = 720_000_000

	// Warm-start a position carrying debt in both currencies: 900 of value
	// against 600 primary + 800 secondary (400 in primary terms).
	accountID := uuid.New()
	acct := vault.VaultAccount{
		AccountID:             accountID,
		VaultID:               "vault-eth",
		Maturity:              maturity1,
		VaultShares:           1250 * unit,
		AccountDebtUnderlying: -600 * unit,
	}
	acct.SecondaryDebt[0] = -800 * unit
	state := vault.VaultState{
		VaultID:             "vault-eth",
		Maturity:            maturity1,
		TotalDebtUnderlying: -600 * unit,
		TotalVaultShares:    1250 * unit,
		ShareConversionRate: rate,
	}
	engine.Restore([]vault.VaultAccount{acct}, []vault.VaultState{state}, 0)

	res, err := engine.DeleverageAccount(ctx, core.DeleverageRequest{
		Liquidator:        uuid.New(),
		AccountID:         accountID,
		VaultID:           "vault-eth",
		CurrencyIndex:     1,
		DepositUnderlying: 200 * unit, // secondary currency units
		BlockTime:         blockTime + 100,
	})
	if err != nil {
		t.Fatalf("DeleverageAccount failed: %v", err)
	}

	if res.DepositRepaid != 200*unit {
		t.Errorf("deposit: expected %d, got %d", 200*unit, res.DepositRepaid)
	}
	if res.RemainingDebt != -600*unit {
		t.Errorf("remaining secondary debt: expected %d, got %d", -600*unit, res.RemainingDebt)
	}
	// Share value in secondary terms is 1800: 1250 * 1.04 * 200 / 1800.
	if res.SharesToLiquidator != 14_444_444_444 {
		t.Errorf("shares to liquidator: expected 14444444444, got %d", res.SharesToLiquidator)
	}

	// Secondary repayments leave the primary aggregate untouched.
	if got := engine.State("vault-eth", maturity1); got.TotalDebtUnderlying != -600*unit {
		t.Errorf("primary aggregate changed: %d", got.TotalDebtUnderlying)
	}
	if got := engine.Account(accountID, "vault-eth"); got.AccountDebtUnderlying != -600*unit {
		t.Errorf("primary debt changed: %d", got.AccountDebtUnderlying)
	}
}
