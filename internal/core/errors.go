package core

import "errors"

// Sentinel rejection reasons. Operations wrap these with context; callers and
// the HTTP layer match with errors.Is.
var (
	ErrUnknownVault          = errors.New("unknown vault")
	ErrVaultPaused           = errors.New("vault is not accepting entries")
	ErrInvalidMaturity       = errors.New("invalid maturity")
	ErrMaturityMismatch      = errors.New("account holds a position in a different maturity")
	ErrBelowMinBorrow        = errors.New("debt below minimum borrow size")
	ErrOverCapacity          = errors.New("vault borrow capacity exceeded")
	ErrOverLeverage          = errors.New("position exceeds maximum leverage")
	ErrInsufficientLiquidity = errors.New("no liquidity at maturity")
	ErrRepayExceedsDebt      = errors.New("repayment exceeds outstanding debt")
	ErrNegativeCash          = errors.New("operation produces negative cash")
	ErrAccountBusy           = errors.New("account has an operation in flight")
	ErrNotSettled            = errors.New("maturity has not settled")
	ErrNotLiquidatable       = errors.New("account is above the deleverage threshold")
	ErrMustLiquidateFull     = errors.New("partial deleverage would leave dust debt; repay in full")
)
