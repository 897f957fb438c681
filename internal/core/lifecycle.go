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

// EnterVaultRequest opens or increases a leveraged position.
type EnterVaultRequest struct {
	AccountID uuid.UUID
	VaultID   string

	// Maturity to borrow in; PrimeMaturity for the variable-rate term.
	Maturity int64

	// DepositUnderlying is the account's own margin, internal precision, >= 0.
	DepositUnderlying int64

	// BorrowUnderlying is the debt to draw, internal precision, >= 0.
	BorrowUnderlying int64

	// MaxBorrowRate caps the realized annualized borrow rate
	// (RatePrecision-scaled). Zero disables the limit.
	MaxBorrowRate int64

	StrategyData []byte
	BlockTime    int64
}

// EnterVault borrows at the requested maturity, assesses the borrow fee,
// deposits margin plus borrowed cash into the strategy and checks the
// resulting position against the leverage cap. On any rejection the ledgers
// are unchanged.
func (e *Engine) EnterVault(ctx context.Context, req EnterVaultRequest) (vault.VaultAccount, error) {
	start := time.Now()
	acct, err := e.enterVault(ctx, req)
	e.observeOp("enter_vault", start, err)
	return acct, err
}

func (e *Engine) enterVault(ctx context.Context, req EnterVaultRequest) (vault.VaultAccount, error) {
	var zero vault.VaultAccount
	if req.DepositUnderlying < 0 || req.BorrowUnderlying < 0 {
		return zero, fmt.Errorf("%w: negative deposit or borrow", ErrNegativeCash)
	}

	cfg, err := e.config(req.VaultID)
	if err != nil {
		return zero, err
	}
	if !cfg.Capabilities.Enabled {
		return zero, fmt.Errorf("%w: %s", ErrVaultPaused, req.VaultID)
	}
	if req.Maturity != vault.PrimeMaturity && req.Maturity <= req.BlockTime {
		return zero, fmt.Errorf("%w: maturity %d is not in the future", ErrInvalidMaturity, req.Maturity)
	}

	if err := e.beginOp(req.VaultID, req.AccountID); err != nil {
		return zero, err
	}
	defer e.endOp(req.VaultID, req.AccountID)

	acct := e.Account(req.AccountID, req.VaultID)
	state := e.State(req.VaultID, req.Maturity)
	if state.IsSettled {
		return zero, fmt.Errorf("%w: maturity %d already settled", ErrInvalidMaturity, req.Maturity)
	}

	// A prime position pays its variable-rate fee at every touch-point; the
	// aggregate delta below mirrors it.
	primeFee := accruePrimeDebtFee(&cfg, &acct, req.BlockTime)

	// An account holds at most one maturity per vault. A live position pins
	// the maturity; a fully exited one may re-enter elsewhere when the vault
	// allows it.
	if acct.Maturity != 0 && acct.Maturity != req.Maturity {
		if !acct.IsEmpty() {
			return zero, fmt.Errorf("%w: position in maturity %d", ErrMaturityMismatch, acct.Maturity)
		}
		if !cfg.Capabilities.AllowReentryAfterExit {
			return zero, fmt.Errorf("%w: reentry into a different maturity is disabled", ErrMaturityMismatch)
		}
	}

	// Draw the debt. Prime borrows at the current variable rate, face value;
	// fixed maturities trade against the AMM curve.
	var cashFromBorrow int64
	if req.BorrowUnderlying > 0 {
		if req.Maturity == vault.PrimeMaturity {
			cashFromBorrow = req.BorrowUnderlying
		} else {
			cashFromBorrow, err = e.amm.ExecuteTrade(ctx, cfg.BorrowCurrencyID, req.Maturity,
				-req.BorrowUnderlying, req.MaxBorrowRate)
			if err != nil {
				return zero, fmt.Errorf("borrow trade: %w", err)
			}
			if cashFromBorrow == 0 {
				return zero, fmt.Errorf("%w: maturity %d", ErrInsufficientLiquidity, req.Maturity)
			}
		}
	}

	newDebt := fpmath.ClampDebt(acct.AccountDebtUnderlying - req.BorrowUnderlying)

	// Capacity check on the post-borrow aggregate, across all maturities of
	// the vault.
	newStateDebt := state.TotalDebtUnderlying - req.BorrowUnderlying - primeFee
	if -e.totalVaultDebt(req.VaultID, state.Maturity, newStateDebt) > cfg.MaxVaultBorrowCapacity {
		return zero, fmt.Errorf("%w: vault %s", ErrOverCapacity, req.VaultID)
	}

	// Borrow fee, assessed up front on the borrowed cash for the time to
	// maturity. The leverage input uses the projected post-deposit position.
	var fee, annualRate, insuredValue int64
	if req.BorrowUnderlying > 0 && req.Maturity != vault.PrimeMaturity {
		projectedValue, err := e.projectedShareValue(cfg.VaultID, acct, req.DepositUnderlying+cashFromBorrow)
		if err != nil {
			return zero, err
		}
		leverage := vault.LeverageRatio(projectedValue, newDebt)
		annualRate = feeAnnualRate(cfg.FeeRate, leverage)
		fee = borrowFee(cashFromBorrow, annualRate, req.Maturity-req.BlockTime)
		if fee > 0 {
			insuredValue, err = e.insurance.PayFee(ctx, cfg.BorrowCurrencyID, fee)
			if err != nil {
				return zero, fmt.Errorf("fee transfer: %w", err)
			}
		}
	}

	acct.TempCashBalance += req.DepositUnderlying + cashFromBorrow - fee
	if acct.TempCashBalance < 0 {
		return zero, fmt.Errorf("%w: deposit %d + borrow cash %d < fee %d",
			ErrNegativeCash, req.DepositUnderlying, cashFromBorrow, fee)
	}

	var sharesMinted int64
	if acct.TempCashBalance > 0 {
		sharesMinted, err = e.strategy.Deposit(ctx, cfg.VaultID, req.AccountID, acct.TempCashBalance, req.Maturity, req.StrategyData)
		if err != nil {
			return zero, fmt.Errorf("strategy deposit: %w", err)
		}
	}
	// The whole balance went into the strategy; commit refuses a record that
	// still carries cash.
	acct.TempCashBalance = 0

	acct.Maturity = req.Maturity
	acct.VaultShares += sharesMinted
	acct.AccountDebtUnderlying = newDebt
	acct.LastUpdateTime = req.BlockTime

	if err := acct.CheckMinBorrow(&cfg); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrBelowMinBorrow, err)
	}

	health, err := vault.AccountHealth(&cfg, &acct, e.rates, e.amm, e.strategy, req.BlockTime)
	if err != nil {
		return zero, err
	}
	if err := vault.CheckEntryCollateralRatio(&cfg, health); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrOverLeverage, err)
	}

	state.TotalDebtUnderlying = newStateDebt
	state.TotalVaultShares += sharesMinted

	if err := e.commit([]vault.VaultAccount{acct}, []vault.VaultState{state}); err != nil {
		return zero, err
	}

	e.logger.Info().
		Str("vault", req.VaultID).
		Str("account", req.AccountID.String()).
		Int64("maturity", req.Maturity).
		Int64("deposit", req.DepositUnderlying).
		Int64("borrowed", req.BorrowUnderlying).
		Int64("shares_minted", sharesMinted).
		Int64("collateral_ratio", health.CollateralRatio).
		Msg("vault entered")

	accountID := req.AccountID
	e.emit(event.EventTypeVaultEntered, req.VaultID, &accountID, req.BlockTime, event.VaultEntered{
		Maturity:          req.Maturity,
		DepositUnderlying: req.DepositUnderlying,
		DebtBorrowed:      req.BorrowUnderlying,
		CashFromBorrow:    cashFromBorrow,
		SharesMinted:      sharesMinted,
		AccountDebt:       acct.AccountDebtUnderlying,
		AccountShares:     acct.VaultShares,
		CollateralRatio:   health.CollateralRatio,
	}, []vault.VaultAccount{acct}, []vault.VaultState{state})

	if fee > 0 {
		e.emit(event.EventTypeFeeAccrued, req.VaultID, &accountID, req.BlockTime, event.FeeAccrued{
			Maturity:     req.Maturity,
			FeePaid:      fee,
			AnnualRate:   annualRate,
			InsuredValue: insuredValue,
		}, nil, nil)
	}

	return acct, nil
}

// ExitVaultRequest redeems shares and repays debt, returning surplus cash to
// the account.
type ExitVaultRequest struct {
	AccountID uuid.UUID
	VaultID   string

	// SharesToRedeem burns this many vault shares, >= 0.
	SharesToRedeem int64

	// RepayUnderlying is the debt magnitude to retire, internal precision,
	// >= 0. For a fixed maturity the engine lends this amount back to the
	// market; the cash cost is typically below face.
	RepayUnderlying int64

	// MinLendRate floors the realized annualized lend rate
	// (RatePrecision-scaled). Zero disables the limit.
	MinLendRate int64

	StrategyData []byte
	BlockTime    int64
}

// ExitVaultResult reports the cash flows of a completed exit.
type ExitVaultResult struct {
	Account        vault.VaultAccount
	CashFromRedeem int64
	RepayCost      int64
	CashToAccount  int64
	FullExit       bool
}

// ExitVault redeems shares, repays debt and pays out the surplus. A position
// whose fixed maturity has passed must settle instead.
func (e *Engine) ExitVault(ctx context.Context, req ExitVaultRequest) (ExitVaultResult, error) {
	start := time.Now()
	res, err := e.exitVault(ctx, req)
	e.observeOp("exit_vault", start, err)
	return res, err
}

func (e *Engine) exitVault(ctx context.Context, req ExitVaultRequest) (ExitVaultResult, error) {
	var zero ExitVaultResult
	if req.SharesToRedeem < 0 || req.RepayUnderlying < 0 {
		return zero, fmt.Errorf("%w: negative shares or repayment", ErrNegativeCash)
	}

	cfg, err := e.config(req.VaultID)
	if err != nil {
		return zero, err
	}

	if err := e.beginOp(req.VaultID, req.AccountID); err != nil {
		return zero, err
	}
	defer e.endOp(req.VaultID, req.AccountID)

	acct := e.Account(req.AccountID, req.VaultID)
	if acct.VaultShares == 0 && !acct.HasDebt() {
		return zero, fmt.Errorf("%w: account holds no position", ErrMaturityMismatch)
	}
	if acct.Maturity != vault.PrimeMaturity && req.BlockTime >= acct.Maturity {
		return zero, fmt.Errorf("%w: maturity %d has expired, settle instead", ErrInvalidMaturity, acct.Maturity)
	}

	// Outstanding prime fee lands on the debt before the repayment is
	// validated against it.
	primeFee := accruePrimeDebtFee(&cfg, &acct, req.BlockTime)
	if req.SharesToRedeem > acct.VaultShares {
		return zero, fmt.Errorf("%w: redeem %d exceeds held shares %d",
			ErrRepayExceedsDebt, req.SharesToRedeem, acct.VaultShares)
	}
	if req.RepayUnderlying > -acct.AccountDebtUnderlying {
		return zero, fmt.Errorf("%w: repay %d exceeds debt %d",
			ErrRepayExceedsDebt, req.RepayUnderlying, -acct.AccountDebtUnderlying)
	}

	var cashFromRedeem int64
	if req.SharesToRedeem > 0 {
		cashFromRedeem, err = e.strategy.Redeem(ctx, cfg.VaultID, req.AccountID, req.SharesToRedeem,
			acct.Maturity, req.StrategyData)
		if err != nil {
			return zero, fmt.Errorf("strategy redeem: %w", err)
		}
	}

	// Retire debt. Prime repays at face. A fixed maturity lends the repaid
	// amount back to the market; when the market has no liquidity the cash is
	// held against the debt at face value instead, forfeiting the discount.
	repayCost := int64(0)
	if req.RepayUnderlying > 0 {
		if acct.Maturity == vault.PrimeMaturity {
			repayCost = req.RepayUnderlying
		} else {
			repayCost, err = e.amm.ExecuteTrade(ctx, cfg.BorrowCurrencyID, acct.Maturity,
				req.RepayUnderlying, req.MinLendRate)
			if err != nil {
				return zero, fmt.Errorf("lend trade: %w", err)
			}
			if repayCost == 0 {
				repayCost = req.RepayUnderlying
			}
		}
	}

	acct.TempCashBalance += cashFromRedeem - repayCost
	if acct.TempCashBalance < 0 {
		return zero, fmt.Errorf("%w: redeem cash %d does not cover repay cost %d",
			ErrNegativeCash, cashFromRedeem, repayCost)
	}
	// The surplus is withdrawn to the account before the record persists.
	cashToAccount := acct.TempCashBalance
	acct.TempCashBalance = 0

	acct.VaultShares -= req.SharesToRedeem
	acct.AccountDebtUnderlying = fpmath.ClampDebt(acct.AccountDebtUnderlying + req.RepayUnderlying)
	acct.LastUpdateTime = req.BlockTime

	fullExit := acct.IsEmpty()
	dustShares := int64(0)
	if fullExit && acct.VaultShares > 0 {
		// Residual rounding dust is burned with the exit.
		dustShares = acct.VaultShares
		acct.VaultShares = 0
	}

	if err := acct.CheckMinBorrow(&cfg); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrBelowMinBorrow, err)
	}

	if acct.HasDebt() {
		health, err := vault.AccountHealth(&cfg, &acct, e.rates, e.amm, e.strategy, req.BlockTime)
		if err != nil {
			return zero, err
		}
		if err := vault.CheckEntryCollateralRatio(&cfg, health); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrOverLeverage, err)
		}
	}

	state := e.State(req.VaultID, acct.Maturity)
	state.TotalDebtUnderlying = fpmath.ClampDebt(state.TotalDebtUnderlying + req.RepayUnderlying - primeFee)
	state.TotalVaultShares = fpmath.ClampToZero(state.TotalVaultShares - req.SharesToRedeem - dustShares)

	if err := e.commit([]vault.VaultAccount{acct}, []vault.VaultState{state}); err != nil {
		return zero, err
	}

	e.logger.Info().
		Str("vault", req.VaultID).
		Str("account", req.AccountID.String()).
		Int64("shares_redeemed", req.SharesToRedeem).
		Int64("repaid", req.RepayUnderlying).
		Int64("cash_to_account", cashToAccount).
		Bool("full_exit", fullExit).
		Msg("vault exited")

	accountID := req.AccountID
	e.emit(event.EventTypeVaultExited, req.VaultID, &accountID, req.BlockTime, event.VaultExited{
		Maturity:       acct.Maturity,
		SharesRedeemed: req.SharesToRedeem,
		CashFromRedeem: cashFromRedeem,
		DebtRepaid:     req.RepayUnderlying,
		CashToAccount:  cashToAccount,
		AccountDebt:    acct.AccountDebtUnderlying,
		AccountShares:  acct.VaultShares,
		FullExit:       fullExit,
	}, []vault.VaultAccount{acct}, []vault.VaultState{state})

	return ExitVaultResult{
		Account:        acct,
		CashFromRedeem: cashFromRedeem,
		RepayCost:      repayCost,
		CashToAccount:  cashToAccount,
		FullExit:       fullExit,
	}, nil
}

// RollPositionRequest moves a position's debt into a later maturity.
type RollPositionRequest struct {
	AccountID uuid.UUID
	VaultID   string

	// NewMaturity must be later than the position's current maturity;
	// PrimeMaturity is always later than any fixed maturity.
	NewMaturity int64

	// DepositUnderlying is additional margin applied to the roll, >= 0.
	DepositUnderlying int64

	// MinLendRate floors the rate realized retiring the old debt;
	// MaxBorrowRate caps the rate drawing the new debt. Zero disables.
	MinLendRate   int64
	MaxBorrowRate int64

	StrategyData []byte
	BlockTime    int64
}

// RollVaultPosition retires the full debt in the current maturity and redraws
// it in a later one, keeping the strategy position in place. Leftover cash
// after the redraw is deposited for additional shares.
func (e *Engine) RollVaultPosition(ctx context.Context, req RollPositionRequest) (vault.VaultAccount, error) {
	start := time.Now()
	acct, err := e.rollVaultPosition(ctx, req)
	e.observeOp("roll_position", start, err)
	return acct, err
}

func (e *Engine) rollVaultPosition(ctx context.Context, req RollPositionRequest) (vault.VaultAccount, error) {
	var zero vault.VaultAccount
	if req.DepositUnderlying < 0 {
		return zero, fmt.Errorf("%w: negative deposit", ErrNegativeCash)
	}

	cfg, err := e.config(req.VaultID)
	if err != nil {
		return zero, err
	}
	if !cfg.Capabilities.AllowRollPosition {
		return zero, fmt.Errorf("%w: vault %s does not allow rolls", ErrVaultPaused, req.VaultID)
	}
	if !cfg.Capabilities.Enabled {
		return zero, fmt.Errorf("%w: %s", ErrVaultPaused, req.VaultID)
	}

	if err := e.beginOp(req.VaultID, req.AccountID); err != nil {
		return zero, err
	}
	defer e.endOp(req.VaultID, req.AccountID)

	acct := e.Account(req.AccountID, req.VaultID)
	if !acct.HasDebt() {
		return zero, fmt.Errorf("%w: nothing to roll", ErrMaturityMismatch)
	}
	// Only the primary debt trades in a roll; fixed-term secondary debt
	// would be silently re-termed by the maturity change.
	for i, d := range acct.SecondaryDebt {
		if d < 0 {
			return zero, fmt.Errorf("%w: secondary debt %d outstanding in maturity %d, settle or repay first",
				ErrMaturityMismatch, i+1, acct.Maturity)
		}
	}
	if req.NewMaturity <= acct.Maturity {
		return zero, fmt.Errorf("%w: new maturity %d not after %d", ErrInvalidMaturity, req.NewMaturity, acct.Maturity)
	}
	if req.NewMaturity != vault.PrimeMaturity && req.NewMaturity <= req.BlockTime {
		return zero, fmt.Errorf("%w: maturity %d is not in the future", ErrInvalidMaturity, req.NewMaturity)
	}
	if req.BlockTime >= acct.Maturity {
		return zero, fmt.Errorf("%w: maturity %d has expired, settle instead", ErrInvalidMaturity, acct.Maturity)
	}
	newState := e.State(req.VaultID, req.NewMaturity)
	if newState.IsSettled {
		return zero, fmt.Errorf("%w: maturity %d already settled", ErrInvalidMaturity, req.NewMaturity)
	}

	oldDebt := -acct.AccountDebtUnderlying

	// Retire the old debt. A roll has no face-value fallback: without
	// liquidity in the expiring maturity the roll is rejected.
	repayCost, err := e.amm.ExecuteTrade(ctx, cfg.BorrowCurrencyID, acct.Maturity, oldDebt, req.MinLendRate)
	if err != nil {
		return zero, fmt.Errorf("lend trade: %w", err)
	}
	if repayCost == 0 {
		return zero, fmt.Errorf("%w: maturity %d", ErrInsufficientLiquidity, acct.Maturity)
	}

	// Redraw in the new maturity: borrow enough that cash plus the fresh
	// deposit covers the repayment cost, carrying the debt magnitude over.
	var cashFromBorrow int64
	if req.NewMaturity == vault.PrimeMaturity {
		cashFromBorrow = oldDebt
	} else {
		cashFromBorrow, err = e.amm.ExecuteTrade(ctx, cfg.BorrowCurrencyID, req.NewMaturity, -oldDebt, req.MaxBorrowRate)
		if err != nil {
			return zero, fmt.Errorf("borrow trade: %w", err)
		}
		if cashFromBorrow == 0 {
			return zero, fmt.Errorf("%w: maturity %d", ErrInsufficientLiquidity, req.NewMaturity)
		}
	}

	// Borrow fee on the redrawn cash for the new term.
	var fee, annualRate int64
	if req.NewMaturity != vault.PrimeMaturity {
		projectedValue, err := e.projectedShareValue(cfg.VaultID, acct, req.DepositUnderlying)
		if err != nil {
			return zero, err
		}
		leverage := vault.LeverageRatio(projectedValue, -oldDebt)
		annualRate = feeAnnualRate(cfg.FeeRate, leverage)
		fee = borrowFee(cashFromBorrow, annualRate, req.NewMaturity-req.BlockTime)
		if fee > 0 {
			if _, err := e.insurance.PayFee(ctx, cfg.BorrowCurrencyID, fee); err != nil {
				return zero, fmt.Errorf("fee transfer: %w", err)
			}
		}
	}

	acct.TempCashBalance += cashFromBorrow + req.DepositUnderlying - repayCost - fee
	if acct.TempCashBalance < 0 {
		return zero, fmt.Errorf("%w: borrow cash %d + deposit %d does not cover repay cost %d + fee %d",
			ErrNegativeCash, cashFromBorrow, req.DepositUnderlying, repayCost, fee)
	}

	sharesMoved := acct.VaultShares
	oldMaturity := acct.Maturity

	var extraShares int64
	if acct.TempCashBalance > 0 {
		extraShares, err = e.strategy.Deposit(ctx, cfg.VaultID, req.AccountID, acct.TempCashBalance, req.NewMaturity, req.StrategyData)
		if err != nil {
			return zero, fmt.Errorf("strategy deposit: %w", err)
		}
	}
	acct.TempCashBalance = 0

	acct.Maturity = req.NewMaturity
	acct.AccountDebtUnderlying = -oldDebt
	acct.VaultShares += extraShares
	acct.LastUpdateTime = req.BlockTime

	health, err := vault.AccountHealth(&cfg, &acct, e.rates, e.amm, e.strategy, req.BlockTime)
	if err != nil {
		return zero, err
	}
	if err := vault.CheckEntryCollateralRatio(&cfg, health); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrOverLeverage, err)
	}

	oldState := e.State(req.VaultID, oldMaturity)
	oldState.TotalDebtUnderlying = fpmath.ClampDebt(oldState.TotalDebtUnderlying + oldDebt)
	oldState.TotalVaultShares = fpmath.ClampToZero(oldState.TotalVaultShares - sharesMoved)

	newState.TotalDebtUnderlying -= oldDebt
	newState.TotalVaultShares += sharesMoved + extraShares
	if -e.totalVaultDebt(req.VaultID, newState.Maturity, newState.TotalDebtUnderlying) > cfg.MaxVaultBorrowCapacity {
		return zero, fmt.Errorf("%w: vault %s", ErrOverCapacity, req.VaultID)
	}

	if err := e.commit([]vault.VaultAccount{acct}, []vault.VaultState{oldState, newState}); err != nil {
		return zero, err
	}

	e.logger.Info().
		Str("vault", req.VaultID).
		Str("account", req.AccountID.String()).
		Int64("from_maturity", oldMaturity).
		Int64("to_maturity", req.NewMaturity).
		Int64("debt", oldDebt).
		Msg("position rolled")

	accountID := req.AccountID
	e.emit(event.EventTypePositionRolled, req.VaultID, &accountID, req.BlockTime, event.PositionRolled{
		FromMaturity:    oldMaturity,
		ToMaturity:      req.NewMaturity,
		DebtRepaid:      oldDebt,
		DebtBorrowed:    oldDebt,
		SharesMoved:     sharesMoved,
		AccountDebt:     acct.AccountDebtUnderlying,
		CollateralRatio: health.CollateralRatio,
	}, []vault.VaultAccount{acct}, []vault.VaultState{oldState, newState})

	return acct, nil
}

// projectedShareValue estimates post-deposit share value: the current
// position's strategy value plus cash about to be deposited. Used only to
// price the fee curve, never for the leverage check itself.
func (e *Engine) projectedShareValue(vaultID string, acct vault.VaultAccount, pendingCash int64) (int64, error) {
	value := pendingCash
	if acct.VaultShares > 0 {
		held, err := e.strategy.ConvertStrategyToUnderlying(vaultID, acct.AccountID, acct.VaultShares, acct.Maturity)
		if err != nil {
			return 0, fmt.Errorf("strategy valuation: %w", err)
		}
		value += held
	}
	return value, nil
}

// totalVaultDebt sums primary debt across all maturities of a vault,
// substituting pendingDebt for the maturity being modified.
func (e *Engine) totalVaultDebt(vaultID string, pendingMaturity, pendingDebt int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := pendingDebt
	for _, s := range e.states.Snapshot() {
		if s.VaultID != vaultID || s.Maturity == pendingMaturity {
			continue
		}
		total += s.TotalDebtUnderlying
	}
	return total
}

// feeAnnualRate prices the borrow fee curve at a leverage level.
func feeAnnualRate(curve vault.FeeRateCurve, leverage int64) int64 {
	excess := leverage - fpmath.RatePrecision
	if excess < 0 {
		excess = 0
	}
	return curve.AnnualBaseRate + fpmath.MulRate(curve.LeverageSlope, excess, fpmath.RoundDown)
}

// borrowFee prorates the annualized fee over the term, rounding up.
func borrowFee(cash, annualRate, termSeconds int64) int64 {
	if cash <= 0 || annualRate <= 0 || termSeconds <= 0 {
		return 0
	}
	return fpmath.MulDiv3(cash, annualRate, termSeconds,
		fpmath.SecondsPerYear*fpmath.RatePrecision, fpmath.RoundUp)
}

// accruePrimeDebtFee folds the variable-rate fee since the account's last
// touch-point into its debt. A no-op for fixed maturities and debt-free
// accounts. Callers mirror the returned fee into the prime aggregate within
// the same commit.
func accruePrimeDebtFee(cfg *vault.VaultConfig, acct *vault.VaultAccount, blockTime int64) int64 {
	if acct.Maturity != vault.PrimeMaturity || acct.AccountDebtUnderlying >= 0 {
		return 0
	}
	fee := borrowFee(-acct.AccountDebtUnderlying, cfg.FeeRate.AnnualBaseRate, blockTime-acct.LastUpdateTime)
	acct.AccountDebtUnderlying -= fee
	return fee
}
