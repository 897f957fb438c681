package testutil

import (
	"context"

	"VaultLedger/internal/external"
	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

// FakeAmm is a deterministic money market for engine tests. By default a
// trade executes at par: borrowing N debt units returns N cash, lending N
// debt units costs N cash. TradeFn overrides the whole execution when set.
type FakeAmm struct {
	TradeFn func(currency external.CurrencyID, maturity, netDebtUnits, rateLimit int64) (int64, error)
	Rate    int64 // annualized oracle rate, RatePrecision-scaled
	Drained bool  // when true every trade returns zero cash
}

func (f *FakeAmm) ExecuteTrade(_ context.Context, currency external.CurrencyID, maturity, netDebtUnits, rateLimit int64) (int64, error) {
	if f.TradeFn != nil {
		return f.TradeFn(currency, maturity, netDebtUnits, rateLimit)
	}
	if f.Drained {
		return 0, nil
	}
	return fpmath.Abs(netDebtUnits), nil
}

func (f *FakeAmm) OracleRate(external.CurrencyID, int64) (int64, error) {
	return f.Rate, nil
}

// FakeRates converts at configurable fixed rates. The zero value converts
// everything one-to-one.
type FakeRates struct {
	PrimeRate       int64           // underlying per prime unit; 0 means 1.0
	SettlementRates map[int64]int64 // maturity -> storage conversion rate
	FX              map[[2]external.CurrencyID]int64
}

func (f *FakeRates) primeRate() int64 {
	if f.PrimeRate == 0 {
		return fpmath.RatePrecision
	}
	return f.PrimeRate
}

func (f *FakeRates) ConvertToUnderlying(_ external.CurrencyID, primeUnits int64) (int64, error) {
	return fpmath.MulRate(primeUnits, f.primeRate(), fpmath.RoundDown), nil
}

func (f *FakeRates) ConvertFromUnderlying(_ external.CurrencyID, underlying int64) (int64, error) {
	return fpmath.DivRate(underlying, f.primeRate(), fpmath.RoundDown), nil
}

func (f *FakeRates) ConvertDebtStorageToUnderlying(_ external.CurrencyID, maturity, debtUnits int64) (int64, error) {
	rate := f.SettlementRates[maturity]
	if rate == 0 {
		rate = fpmath.RatePrecision
	}
	return fpmath.MulRate(debtUnits, rate, fpmath.RoundDown), nil
}

func (f *FakeRates) ExchangeRate(base, quote external.CurrencyID) (int64, error) {
	if rate, ok := f.FX[[2]external.CurrencyID{base, quote}]; ok {
		return rate, nil
	}
	return fpmath.RatePrecision, nil
}

// FakeStrategy custodies collateral at a fixed share price with no slippage.
// The zero value prices one share at one unit of underlying. DepositFn and
// RedeemFn override their operations when set, for slippage scenarios.
type FakeStrategy struct {
	SharePrice          int64 // underlying per share, RatePrecision-scaled; 0 means 1.0
	PrimeConversionRate int64 // fixed -> prime share conversion; 0 means 1.0

	DepositFn func(vaultID string, account uuid.UUID, cash, maturity int64) (int64, error)
	RedeemFn  func(vaultID string, account uuid.UUID, shares, maturity int64) (int64, error)
}

func (f *FakeStrategy) price() int64 {
	if f.SharePrice == 0 {
		return fpmath.RatePrecision
	}
	return f.SharePrice
}

func (f *FakeStrategy) ConvertStrategyToUnderlying(_ string, _ uuid.UUID, shares, _ int64) (int64, error) {
	return fpmath.MulRate(shares, f.price(), fpmath.RoundDown), nil
}

func (f *FakeStrategy) Deposit(_ context.Context, vaultID string, account uuid.UUID, cash, maturity int64, _ []byte) (int64, error) {
	if f.DepositFn != nil {
		return f.DepositFn(vaultID, account, cash, maturity)
	}
	return fpmath.DivRate(cash, f.price(), fpmath.RoundDown), nil
}

func (f *FakeStrategy) Redeem(_ context.Context, vaultID string, account uuid.UUID, shares, maturity int64, _ []byte) (int64, error) {
	if f.RedeemFn != nil {
		return f.RedeemFn(vaultID, account, shares, maturity)
	}
	return fpmath.MulRate(shares, f.price(), fpmath.RoundDown), nil
}

func (f *FakeStrategy) ConvertSharesToPrime(_ context.Context, _ string, _ int64, shares int64) (int64, error) {
	rate := f.PrimeConversionRate
	if rate == 0 {
		rate = fpmath.RatePrecision
	}
	return fpmath.MulRate(shares, rate, fpmath.RoundDown), nil
}

// FakeInsurance accumulates fees into a balance and raises shortfalls from
// it. The balance caps what a shortfall redemption can return.
type FakeInsurance struct {
	Balance  int64
	FeesPaid []int64
}

func (f *FakeInsurance) PayFee(_ context.Context, _ external.CurrencyID, amount int64) (int64, error) {
	f.Balance += amount
	f.FeesPaid = append(f.FeesPaid, amount)
	return f.Balance, nil
}

func (f *FakeInsurance) RedeemToCoverShortfall(_ context.Context, _ external.CurrencyID, amount int64) (int64, error) {
	raised := fpmath.Min(amount, f.Balance)
	if raised < 0 {
		raised = 0
	}
	f.Balance -= raised
	return raised, nil
}
