package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"
)

func TestSettleVault(t *testing.T) {
	engine, _, persistChan := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := engine.EnterVault(ctx, enterRequest(accountID)); err != nil {
		t.Fatal(err)
	}
	drainEvents(persistChan)

	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1); err != nil {
		t.Fatalf("SettleVault failed: %v", err)
	}

	settled := engine.State("vault-eth", maturity1)
	if !settled.IsSettled {
		t.Fatal("expected settled state")
	}
	if settled.TotalDebtUnderlying != 0 {
		t.Errorf("settled debt should be zero, got %d", settled.TotalDebtUnderlying)
	}
	if settled.TotalVaultShares != 0 {
		t.Errorf("settled shares should migrate out, got %d", settled.TotalVaultShares)
	}

	// Debt and shares migrated into the prime ledger at par.
	prime := engine.State("vault-eth", vault.PrimeMaturity)
	if prime.TotalDebtUnderlying != -1000*unit {
		t.Errorf("prime debt: expected %d, got %d", -1000*unit, prime.TotalDebtUnderlying)
	}
	if prime.TotalVaultShares != 1250*unit {
		t.Errorf("prime shares: expected %d, got %d", 1250*unit, prime.TotalVaultShares)
	}

	events := drainEvents(persistChan)
	if len(events) != 1 || events[0].EventType != event.EventTypeMaturitySettled {
		t.Fatalf("expected one MaturitySettled event, got %+v", events)
	}

	// Idempotent: a second settlement is a silent no-op.
	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1+100); err != nil {
		t.Fatalf("repeat settlement failed: %v", err)
	}
	if events := drainEvents(persistChan); len(events) != 0 {
		t.Errorf("repeat settlement emitted %d events", len(events))
	}
	prime2 := engine.State("vault-eth", vault.PrimeMaturity)
	if prime2 != prime {
		t.Errorf("prime ledger changed on repeat settlement")
	}
}

func TestSettleVault_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t, testVaultConfig())
	ctx := context.Background()

	if err := engine.SettleVault(ctx, "vault-eth", vault.PrimeMaturity, maturity1); !errors.Is(err, core.ErrInvalidMaturity) {
		t.Errorf("prime settlement: expected ErrInvalidMaturity, got %v", err)
	}
	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1-1); !errors.Is(err, core.ErrInvalidMaturity) {
		t.Errorf("early settlement: expected ErrInvalidMaturity, got %v", err)
	}
	if err := engine.SettleVault(ctx, "no-such-vault", maturity1, maturity1); !errors.Is(err, core.ErrUnknownVault) {
		t.Errorf("expected ErrUnknownVault, got %v", err)
	}
}

func TestSettleVault_ShareConversion(t *testing.T) {
	cfg := testVaultConfig()
	cfg.Capabilities.RequiresSettlementConversion = true
	engine, deps, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	if _, err := engine.EnterVault(ctx, enterRequest(uuid.New())); err != nil {
		t.Fatal(err)
	}

	// Fixed shares convert into prime shares at 0.8.
	deps.strategy.PrimeConversionRate = 800_000_000

	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1); err != nil {
		t.Fatalf("SettleVault failed: %v", err)
	}

	prime := engine.State("vault-eth", vault.PrimeMaturity)
	if prime.TotalVaultShares != 1000*unit {
		t.Errorf("prime shares: expected %d, got %d", 1000*unit, prime.TotalVaultShares)
	}
	settled := engine.State("vault-eth", maturity1)
	if settled.ShareConversionRate != 800_000_000 {
		t.Errorf("conversion rate: expected 0.8 scaled, got %d", settled.ShareConversionRate)
	}
}

func TestSettleVault_ShortfallCoveredByInsurance(t *testing.T) {
	engine, deps, persistChan := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := engine.EnterVault(ctx, enterRequest(accountID)); err != nil {
		t.Fatal(err)
	}
	drainEvents(persistChan)

	// Collateral collapses to 40% of par: pooled value 500 against 1000 of
	// settled debt. The pool holds enough to cover the whole gap.
	deps.strategy.SharePrice = 400_000_000
	deps.insurance.Balance = 600 * unit

	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1); err != nil {
		t.Fatalf("SettleVault failed: %v", err)
	}

	// 500 raised from the pool retires half the migrated debt.
	prime := engine.State("vault-eth", vault.PrimeMaturity)
	if prime.TotalDebtUnderlying != -500*unit {
		t.Errorf("prime debt: expected %d, got %d", -500*unit, prime.TotalDebtUnderlying)
	}
	if deps.insurance.Balance != 100*unit {
		t.Errorf("insurance balance: expected %d, got %d", 100*unit, deps.insurance.Balance)
	}

	// The surviving fraction is pinned on the settled record.
	settled := engine.State("vault-eth", maturity1)
	if settled.DebtWriteDownRate != 500_000_000 {
		t.Errorf("write-down rate: expected 0.5 scaled, got %d", settled.DebtWriteDownRate)
	}

	events := drainEvents(persistChan)
	if len(events) != 2 {
		t.Fatalf("expected MaturitySettled + ShortfallCovered, got %d events", len(events))
	}
	if events[1].EventType != event.EventTypeShortfallCovered {
		t.Errorf("expected ShortfallCovered, got %s", events[1].EventType)
	}

	// The sole account settles at the same write-down, so its debt matches
	// the netted aggregate instead of overshooting it by the insurance draw.
	acct, err := engine.SettleVaultAccount(ctx, accountID, "vault-eth", maturity1)
	if err != nil {
		t.Fatalf("SettleVaultAccount failed: %v", err)
	}
	if acct.AccountDebtUnderlying != -500*unit {
		t.Errorf("account debt: expected %d, got %d", -500*unit, acct.AccountDebtUnderlying)
	}
	prime = engine.State("vault-eth", vault.PrimeMaturity)
	if acct.AccountDebtUnderlying != prime.TotalDebtUnderlying {
		t.Errorf("account debt %d diverged from prime aggregate %d",
			acct.AccountDebtUnderlying, prime.TotalDebtUnderlying)
	}
	drainEvents(persistChan)

	// Entries stay open: the pool absorbed the loss.
	req := enterRequest(uuid.New())
	req.Maturity = maturity2
	if _, err := engine.EnterVault(ctx, req); err != nil {
		t.Errorf("vault should accept entries after a covered shortfall: %v", err)
	}
}

func TestSettleVault_InsolvencyPausesEntries(t *testing.T) {
	engine, deps, persistChan := newTestEngine(t, testVaultConfig())
	ctx := context.Background()

	if _, err := engine.EnterVault(ctx, enterRequest(uuid.New())); err != nil {
		t.Fatal(err)
	}
	drainEvents(persistChan)

	// Pooled value 500 against 1000 of debt, but the pool can only raise 300.
	deps.strategy.SharePrice = 400_000_000
	deps.insurance.Balance = 300 * unit

	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1); err != nil {
		t.Fatalf("SettleVault failed: %v", err)
	}

	prime := engine.State("vault-eth", vault.PrimeMaturity)
	if prime.TotalDebtUnderlying != -700*unit {
		t.Errorf("prime debt: expected %d, got %d", -700*unit, prime.TotalDebtUnderlying)
	}
	if deps.insurance.Balance != 0 {
		t.Errorf("insurance pool should be exhausted, got %d", deps.insurance.Balance)
	}

	events := drainEvents(persistChan)
	if len(events) != 3 {
		t.Fatalf("expected MaturitySettled + ShortfallCovered + ProtocolInsolvency, got %d events", len(events))
	}
	if events[2].EventType != event.EventTypeProtocolInsolvency {
		t.Errorf("expected ProtocolInsolvency, got %s", events[2].EventType)
	}
	payload, ok := events[2].Payload.(event.ProtocolInsolvency)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[2].Payload)
	}
	if payload.Residual != 200*unit {
		t.Errorf("residual: expected %d, got %d", 200*unit, payload.Residual)
	}

	// The residual loss pauses new entries.
	req := enterRequest(uuid.New())
	req.Maturity = maturity2
	if _, err := engine.EnterVault(ctx, req); !errors.Is(err, core.ErrVaultPaused) {
		t.Errorf("expected ErrVaultPaused after insolvency, got %v", err)
	}
}

func TestSettleVaultAccount(t *testing.T) {
	engine, deps, persistChan := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := engine.EnterVault(ctx, enterRequest(accountID)); err != nil {
		t.Fatal(err)
	}

	// Before the maturity expires, the account cannot settle.
	if _, err := engine.SettleVaultAccount(ctx, accountID, "vault-eth", maturity1-1); !errors.Is(err, core.ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled, got %v", err)
	}

	// Fixed debt accrues to 1.05x of face by settlement.
	deps.rates.SettlementRates = map[int64]int64{maturity1: 1_050_000_000}

	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1); err != nil {
		t.Fatal(err)
	}
	drainEvents(persistChan)

	acct, err := engine.SettleVaultAccount(ctx, accountID, "vault-eth", maturity1+100)
	if err != nil {
		t.Fatalf("SettleVaultAccount failed: %v", err)
	}

	if acct.Maturity != vault.PrimeMaturity {
		t.Errorf("maturity: expected prime, got %d", acct.Maturity)
	}
	if acct.AccountDebtUnderlying != -1050*unit {
		t.Errorf("debt: expected %d, got %d", -1050*unit, acct.AccountDebtUnderlying)
	}
	if acct.VaultShares != 1250*unit {
		t.Errorf("shares: expected unchanged %d, got %d", 1250*unit, acct.VaultShares)
	}

	events := drainEvents(persistChan)
	if len(events) != 1 || events[0].EventType != event.EventTypeAccountSettled {
		t.Fatalf("expected one AccountSettled event, got %+v", events)
	}
}

func TestSettleVaultAccount_CarriesExpiredMaturity(t *testing.T) {
	engine, _, persistChan := newTestEngine(t, testVaultConfig())
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := engine.EnterVault(ctx, enterRequest(accountID)); err != nil {
		t.Fatal(err)
	}
	drainEvents(persistChan)

	// No one has settled the maturity yet: the first account settling after
	// expiry triggers the vault settlement instead of bouncing.
	acct, err := engine.SettleVaultAccount(ctx, accountID, "vault-eth", maturity1)
	if err != nil {
		t.Fatalf("SettleVaultAccount failed: %v", err)
	}

	if !engine.State("vault-eth", maturity1).IsSettled {
		t.Error("expected maturity settled by the account settlement")
	}
	if acct.Maturity != vault.PrimeMaturity {
		t.Errorf("maturity: expected prime, got %d", acct.Maturity)
	}
	if acct.AccountDebtUnderlying != -1000*unit {
		t.Errorf("debt: expected %d, got %d", -1000*unit, acct.AccountDebtUnderlying)
	}

	events := drainEvents(persistChan)
	if len(events) != 2 {
		t.Fatalf("expected MaturitySettled + AccountSettled, got %d events", len(events))
	}
	if events[0].EventType != event.EventTypeMaturitySettled {
		t.Errorf("expected MaturitySettled first, got %s", events[0].EventType)
	}
	if events[1].EventType != event.EventTypeAccountSettled {
		t.Errorf("expected AccountSettled, got %s", events[1].EventType)
	}
}

func TestSettleVaultAccount_PostExpiryFee(t *testing.T) {
	cfg := testVaultConfig()
	cfg.FeeRate.AnnualBaseRate = 20_000_000 // 2%
	engine, _, persistChan := newTestEngine(t, cfg)
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := engine.EnterVault(ctx, enterRequest(accountID)); err != nil {
		t.Fatal(err)
	}
	if err := engine.SettleVault(ctx, "vault-eth", maturity1, maturity1); err != nil {
		t.Fatal(err)
	}
	drainEvents(persistChan)

	// The entry fee covered the account up to maturity. Sitting unsettled
	// for another half year costs the variable rate: 2% on 1000 is 10 units.
	acct, err := engine.SettleVaultAccount(ctx, accountID, "vault-eth", maturity1+fpmath.SecondsPerYear/2)
	if err != nil {
		t.Fatalf("SettleVaultAccount failed: %v", err)
	}
	if acct.AccountDebtUnderlying != -1010*unit {
		t.Errorf("debt: expected %d, got %d", -1010*unit, acct.AccountDebtUnderlying)
	}

	// The fee lands on the prime aggregate in the same commit.
	prime := engine.State("vault-eth", vault.PrimeMaturity)
	if prime.TotalDebtUnderlying != -1010*unit {
		t.Errorf("prime debt: expected %d, got %d", -1010*unit, prime.TotalDebtUnderlying)
	}

	events := drainEvents(persistChan)
	if len(events) != 1 || events[0].EventType != event.EventTypeAccountSettled {
		t.Fatalf("expected one AccountSettled event, got %+v", events)
	}
	payload, ok := events[0].Payload.(event.AccountSettled)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if payload.PrimeFeeCharged != 10*unit {
		t.Errorf("fee charged: expected %d, got %d", 10*unit, payload.PrimeFeeCharged)
	}
}

func TestAccruePrimeFee(t *testing.T) {
	cfg := testVaultConfig()
	cfg.FeeRate.AnnualBaseRate = 20_000_000 // 2%
	engine, deps, persistChan := newTestEngine(t, cfg)
	ctx := context.Background()
	accountID := uuid.New()

	// Borrow in the prime maturity directly.
	req := enterRequest(accountID)
	req.Maturity = vault.PrimeMaturity
	if _, err := engine.EnterVault(ctx, req); err != nil {
		t.Fatal(err)
	}
	drainEvents(persistChan)

	// 2% on 1000 for half a year: 10 units, folded into the debt.
	fee, err := engine.AccruePrimeFee(ctx, "vault-eth", blockTime+fpmath.SecondsPerYear/2)
	if err != nil {
		t.Fatalf("AccruePrimeFee failed: %v", err)
	}
	if fee != 10*unit {
		t.Errorf("fee: expected %d, got %d", 10*unit, fee)
	}

	// The fee lands on the account and the aggregate in the same commit, so
	// the per-account sum stays equal to the vault total.
	acct := engine.Account(accountID, "vault-eth")
	if acct.AccountDebtUnderlying != -1010*unit {
		t.Errorf("account debt: expected %d, got %d", -1010*unit, acct.AccountDebtUnderlying)
	}
	prime := engine.State("vault-eth", vault.PrimeMaturity)
	if prime.TotalDebtUnderlying != acct.AccountDebtUnderlying {
		t.Errorf("account debt %d diverged from prime aggregate %d",
			acct.AccountDebtUnderlying, prime.TotalDebtUnderlying)
	}

	// Purely additive to debt: no cash reaches the insurance pool.
	if deps.insurance.Balance != 0 {
		t.Errorf("insurance balance: expected untouched, got %d", deps.insurance.Balance)
	}

	events := drainEvents(persistChan)
	if len(events) != 1 || events[0].EventType != event.EventTypeFeeAccrued {
		t.Fatalf("expected one FeeAccrued event, got %+v", events)
	}

	// Re-running at the same block accrues nothing: the touch-point moved.
	fee, err = engine.AccruePrimeFee(ctx, "vault-eth", blockTime+fpmath.SecondsPerYear/2)
	if err != nil || fee != 0 {
		t.Errorf("repeat accrual: expected zero fee, got %d, %v", fee, err)
	}
	if events := drainEvents(persistChan); len(events) != 0 {
		t.Errorf("repeat accrual emitted %d events", len(events))
	}

	// An interval with no prime debt accrues nothing.
	fresh, _, _ := newTestEngine(t, cfg)
	fee, err = fresh.AccruePrimeFee(ctx, "vault-eth", blockTime+1000)
	if err != nil || fee != 0 {
		t.Errorf("empty vault: expected zero fee, got %d, %v", fee, err)
	}
}

func TestEnterVault_AccruesOutstandingPrimeFee(t *testing.T) {
	cfg := testVaultConfig()
	cfg.FeeRate.AnnualBaseRate = 20_000_000 // 2%
	engine, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	accountID := uuid.New()

	req := enterRequest(accountID)
	req.Maturity = vault.PrimeMaturity
	if _, err := engine.EnterVault(ctx, req); err != nil {
		t.Fatal(err)
	}

	// Touching the position half a year later folds the accrued fee into the
	// debt alongside the new borrow, on both ledgers.
	req = enterRequest(accountID)
	req.Maturity = vault.PrimeMaturity
	req.DepositUnderlying = 500 * unit
	req.BorrowUnderlying = 1000 * unit
	req.BlockTime = blockTime + fpmath.SecondsPerYear/2
	acct, err := engine.EnterVault(ctx, req)
	if err != nil {
		t.Fatalf("second EnterVault failed: %v", err)
	}

	if acct.AccountDebtUnderlying != -2010*unit {
		t.Errorf("account debt: expected %d, got %d", -2010*unit, acct.AccountDebtUnderlying)
	}
	prime := engine.State("vault-eth", vault.PrimeMaturity)
	if prime.TotalDebtUnderlying != acct.AccountDebtUnderlying {
		t.Errorf("account debt %d diverged from prime aggregate %d",
			acct.AccountDebtUnderlying, prime.TotalDebtUnderlying)
	}
}
