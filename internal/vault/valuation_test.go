package vault_test

import (
	"testing"

	"VaultLedger/internal/external"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/testutil"
	"VaultLedger/internal/vault"
)

const (
	rate = fpmath.RatePrecision
	unit = fpmath.InternalPrecision
)

func TestCollateralRatio(t *testing.T) {
	// 1250 value against 1000 debt: equity 250, ratio 0.25.
	if got := vault.CollateralRatio(1250*unit, -1000*unit); got != 250_000_000 {
		t.Errorf("expected 0.25 scaled, got %d", got)
	}

	// Underwater position: equity negative, ratio negative.
	if got := vault.CollateralRatio(900*unit, -1000*unit); got != -100_000_000 {
		t.Errorf("expected -0.1 scaled, got %d", got)
	}

	// No debt means infinite health.
	if got := vault.CollateralRatio(500*unit, 0); got != vault.CollateralRatioInfinite {
		t.Errorf("expected infinite sentinel, got %d", got)
	}
	if got := vault.CollateralRatio(0, 100); got != vault.CollateralRatioInfinite {
		t.Errorf("positive net debt: expected infinite sentinel, got %d", got)
	}
}

func TestMinimumCollateralRatio(t *testing.T) {
	// Max leverage 5x implies cr >= 1/(5-1) = 0.25.
	if got := vault.MinimumCollateralRatio(5 * rate); got != 250_000_000 {
		t.Errorf("expected 0.25 scaled, got %d", got)
	}
	// 2x implies 1.0.
	if got := vault.MinimumCollateralRatio(2 * rate); got != rate {
		t.Errorf("expected 1.0 scaled, got %d", got)
	}
}

func TestLeverageRatio(t *testing.T) {
	// 1250 assets on 250 equity: 5x.
	if got := vault.LeverageRatio(1250*unit, -1000*unit); got != 5*rate {
		t.Errorf("expected 5.0 scaled, got %d", got)
	}
	// No debt: 1x by definition.
	if got := vault.LeverageRatio(1250*unit, 0); got != rate {
		t.Errorf("expected 1.0 scaled, got %d", got)
	}
	// Insolvent: sentinel.
	if got := vault.LeverageRatio(900*unit, -1000*unit); got != int64(1<<63-1) {
		t.Errorf("expected max sentinel, got %d", got)
	}
}

func TestPresentValueOfDebt_FaceAndPrime(t *testing.T) {
	rates := &testutil.FakeRates{}
	amm := &testutil.FakeAmm{Rate: 50_000_000} // 5% oracle
	currency := external.CurrencyID(1)

	// No debt passes through.
	pv, err := vault.PresentValueOfDebt(rates, amm, currency, 1000, 0, 500, true)
	if err != nil || pv != 0 {
		t.Fatalf("zero debt: got %d, %v", pv, err)
	}

	// Prime debt is already at current value.
	pv, err = vault.PresentValueOfDebt(rates, amm, currency, vault.PrimeMaturity, -1000*unit, 500, true)
	if err != nil || pv != -1000*unit {
		t.Fatalf("prime debt: got %d, %v", pv, err)
	}

	// Discounting disabled: face value.
	pv, err = vault.PresentValueOfDebt(rates, amm, currency, 10_000, -1000*unit, 500, false)
	if err != nil || pv != -1000*unit {
		t.Fatalf("undiscounted: got %d, %v", pv, err)
	}
}

func TestPresentValueOfDebt_AfterMaturity(t *testing.T) {
	maturity := int64(10_000)
	rates := &testutil.FakeRates{
		SettlementRates: map[int64]int64{maturity: 1_100_000_000}, // 1.1x accrued
	}
	amm := &testutil.FakeAmm{}

	pv, err := vault.PresentValueOfDebt(rates, amm, 1, maturity, -1000*unit, maturity, true)
	if err != nil {
		t.Fatal(err)
	}
	if pv != -1100*unit {
		t.Errorf("expected -1100 units after settlement conversion, got %d", pv)
	}
}

func TestPresentValueOfDebt_Discounted(t *testing.T) {
	amm := &testutil.FakeAmm{Rate: 50_000_000} // 5% annualized
	rates := &testutil.FakeRates{}

	// Half a 360-day year to maturity. Effective rate 5% - 50bp buffer = 4.5%,
	// discount factor 1 / (1 + 0.045/2) = 1/1.0225.
	blockTime := int64(0)
	maturity := fpmath.SecondsPerYear / 2

	pv, err := vault.PresentValueOfDebt(rates, amm, 1, maturity, -1000*unit, blockTime, true)
	if err != nil {
		t.Fatal(err)
	}
	want := int64(-97_799_511_003) // floor(-1000e8 / 1.0225)
	if pv != want {
		t.Errorf("expected %d, got %d", want, pv)
	}

	// Oracle below the buffer floors the discount rate at zero: face value.
	amm.Rate = 3_000_000 // 30bp
	pv, err = vault.PresentValueOfDebt(rates, amm, 1, maturity, -1000*unit, blockTime, true)
	if err != nil {
		t.Fatal(err)
	}
	if pv != -1000*unit {
		t.Errorf("expected face value with floored rate, got %d", pv)
	}
}

func TestDeleverageAmount(t *testing.T) {
	const (
		target = 90_000_000    // 0.09
		liqr   = 1_040_000_000 // 4% bonus
	)

	// Healthy position: nothing to deleverage.
	if got := vault.DeleverageAmount(1200, -1000, -1000, 100, rate, target, liqr); got != 0 {
		t.Errorf("healthy: expected 0, got %d", got)
	}

	// No local debt: nothing to repay in this currency.
	if got := vault.DeleverageAmount(900, -1000, 0, 100, rate, target, liqr); got != 0 {
		t.Errorf("no debt: expected 0, got %d", got)
	}

	// Underwater: formula allows more than the debt, the repayment caps at the
	// full local debt, then the share-value claim cap binds:
	// floor(900 / 1.04) = 865.
	if got := vault.DeleverageAmount(900, -1000, -1000, 100, rate, target, liqr); got != 865 {
		t.Errorf("underwater: expected 865, got %d", got)
	}

	// Partial bound: value 1050, debt 1000, cr = 0.05 < target.
	// X = (1000*1.09 - 1050) / 0.05 = 800.
	if got := vault.DeleverageAmount(1050, -1000, -1000, 250, rate, target, liqr); got != 1000 {
		// remaining 200 would fall below the 250 minimum, so the full debt
		// must be repaid.
		t.Errorf("dust floor: expected 1000, got %d", got)
	}
	if got := vault.DeleverageAmount(1050, -1000, -1000, 100, rate, target, liqr); got != 800 {
		t.Errorf("partial: expected 800, got %d", got)
	}
}

func TestVaultSharesToLiquidator(t *testing.T) {
	// 1000 shares worth 900, deposit 150 at a 4% bonus:
	// 1000 * 1.04 * 150 / 900 = 173.33 -> 173.
	if got := vault.VaultSharesToLiquidator(1000, 1_040_000_000, 900, 150); got != 173 {
		t.Errorf("expected 173 shares, got %d", got)
	}

	// The transfer never exceeds the held shares.
	if got := vault.VaultSharesToLiquidator(100, 1_040_000_000, 10, 50); got != 100 {
		t.Errorf("expected cap at 100 shares, got %d", got)
	}

	// Degenerate inputs transfer nothing.
	if got := vault.VaultSharesToLiquidator(0, 1_040_000_000, 900, 150); got != 0 {
		t.Errorf("zero shares: expected 0, got %d", got)
	}
	if got := vault.VaultSharesToLiquidator(1000, 1_040_000_000, 0, 150); got != 0 {
		t.Errorf("zero value: expected 0, got %d", got)
	}
}

func TestAccountHealth_SecondaryDebt(t *testing.T) {
	cfg := testConfig()
	cfg.SecondaryCurrencyIDs = []external.CurrencyID{2}
	cfg.Capabilities.HasSecondaryBorrows = true

	acct := vault.VaultAccount{
		VaultID:               cfg.VaultID,
		Maturity:              vault.PrimeMaturity,
		VaultShares:           1250 * unit,
		AccountDebtUnderlying: -600 * unit,
	}
	acct.SecondaryDebt[0] = -800 * unit

	rates := &testutil.FakeRates{
		FX: map[[2]external.CurrencyID]int64{
			{2, 1}: 500_000_000, // one secondary unit worth half a primary unit
		},
	}
	strategy := &testutil.FakeStrategy{}
	amm := &testutil.FakeAmm{}

	h, err := vault.AccountHealth(&cfg, &acct, rates, amm, strategy, 100)
	if err != nil {
		t.Fatal(err)
	}

	if h.VaultShareValueUnderlying != 1250*unit {
		t.Errorf("share value: expected %d, got %d", 1250*unit, h.VaultShareValueUnderlying)
	}
	if h.DebtOutstanding[0] != -600*unit {
		t.Errorf("primary debt: expected %d, got %d", -600*unit, h.DebtOutstanding[0])
	}
	if h.DebtOutstanding[1] != -800*unit {
		t.Errorf("secondary debt: expected %d, got %d", -800*unit, h.DebtOutstanding[1])
	}
	// Total: -600 + (-800 * 0.5) = -1000, cr = 250/1000 = 0.25.
	if h.TotalDebtOutstandingInPrimary != -1000*unit {
		t.Errorf("total debt: expected %d, got %d", -1000*unit, h.TotalDebtOutstandingInPrimary)
	}
	if h.CollateralRatio != 250_000_000 {
		t.Errorf("collateral ratio: expected 0.25 scaled, got %d", h.CollateralRatio)
	}
}

func TestCheckEntryCollateralRatio(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLeverageRatio = 5 * rate

	ok := vault.HealthFactors{CollateralRatio: 250_000_000}
	if err := vault.CheckEntryCollateralRatio(&cfg, ok); err != nil {
		t.Errorf("at the bound should pass: %v", err)
	}

	bad := vault.HealthFactors{CollateralRatio: 249_999_999}
	if err := vault.CheckEntryCollateralRatio(&cfg, bad); err == nil {
		t.Error("below the bound should fail")
	}
}
