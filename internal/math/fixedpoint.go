package math

import (
	"math/big"
	"sync"
)

// Precision constants. All cash, debt and share quantities are int64 at
// InternalPrecision; all ratios (leverage, collateral ratio, liquidation
// rate, fee rates) are int64 at RatePrecision.
const (
	InternalPrecision int64 = 100_000_000   // 1e-8 of a unit of underlying
	RatePrecision     int64 = 1_000_000_000 // 1e-9 ratio resolution, 1.0 == RatePrecision
	BasisPoint        int64 = RatePrecision / 10_000

	// SecondsPerYear uses a 360-day financial year for term fee proration.
	SecondsPerYear int64 = 360 * 86400
)

// RoundingMode selects the rounding direction for fixed-point division.
// The vault engine rounds every ratio division toward the protocol: down
// (toward negative infinity) for amounts owed to the account, up (toward
// positive infinity) for amounts owed by the account.
type RoundingMode int

const (
	RoundDown     RoundingMode = iota // floor, toward negative infinity
	RoundUp                           // ceil, toward positive infinity
	RoundHalfEven                     // banker's rounding
)

var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigIntPool.Put(v)
}

// MulDiv computes a * b / denom with a big.Int intermediate so the product
// cannot overflow int64. denom must be positive.
func MulDiv(a, b, denom int64, mode RoundingMode) int64 {
	num := getBig()
	num.Mul(big.NewInt(a), big.NewInt(b))
	result := divBig(num, denom, mode)
	putBig(num)
	return result
}

// MulDiv3 computes a * b * c / denom with big.Int intermediates.
func MulDiv3(a, b, c, denom int64, mode RoundingMode) int64 {
	num := getBig()
	num.Mul(big.NewInt(a), big.NewInt(b))
	num.Mul(num, big.NewInt(c))
	result := divBig(num, denom, mode)
	putBig(num)
	return result
}

// MulRate scales an amount by a RatePrecision ratio.
func MulRate(amount, rate int64, mode RoundingMode) int64 {
	return MulDiv(amount, rate, RatePrecision, mode)
}

// DivRate divides an amount by a RatePrecision ratio, i.e. amount / (rate/1e9).
func DivRate(amount, rate int64, mode RoundingMode) int64 {
	return MulDiv(amount, RatePrecision, rate, mode)
}

// RateDiv returns a * RatePrecision / b as a RatePrecision-scaled ratio.
// b must be positive.
func RateDiv(a, b int64, mode RoundingMode) int64 {
	return MulDiv(a, RatePrecision, b, mode)
}

// divBig divides a big.Int numerator by a positive int64 denominator with the
// requested rounding. Uses Euclidean DivMod (0 <= remainder < denom), so the
// quotient is already the floor for any sign of numerator.
func divBig(num *big.Int, denom int64, mode RoundingMode) int64 {
	d := big.NewInt(denom)
	quo := getBig()
	rem := getBig()

	quo.DivMod(num, d, rem)
	result := quo.Int64()

	switch mode {
	case RoundDown:
		// floor, already done
	case RoundUp:
		if rem.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := big.NewInt(denom / 2)
		cmp := rem.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denom%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putBig(quo)
	putBig(rem)
	return result
}

// ClampToZero floors a value at zero. Used where integer rounding can push a
// theoretically non-negative residual (remaining shares, remaining cash) a
// few units below zero; the mathematical floor is 0, so the dust is absorbed
// rather than trapped as an error.
func ClampToZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// ClampDebt ceils a debt value at zero. Debt is stored as a non-positive
// quantity; a repayment rounded up by one unit must not flip the sign.
func ClampDebt(v int64) int64 {
	if v > 0 {
		return 0
	}
	return v
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Abs returns the absolute value of v.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
