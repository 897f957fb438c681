package vault

import (
	"fmt"
	"sync"

	"VaultLedger/internal/external"
	fpmath "VaultLedger/internal/math"
)

// MaxSecondaryCurrencies bounds the number of non-primary borrow currencies
// a vault may list.
const MaxSecondaryCurrencies = 2

// FeeRateCurve parameterizes the annualized fee charged on borrowed
// principal as a function of leverage. Both terms are RatePrecision-scaled:
// annualRate = AnnualBaseRate + LeverageSlope * (leverage - 1.0).
type FeeRateCurve struct {
	AnnualBaseRate int64
	LeverageSlope  int64
}

// Capabilities is the explicit capability descriptor for a vault. It replaces
// scattered bitset tests: each operation checks the descriptor once.
type Capabilities struct {
	// Enabled gates new entries. Flipped off by governance or by the
	// insolvency backstop; existing holders may still exit.
	Enabled bool

	// AllowRollPosition permits rolling a position into a later maturity.
	AllowRollPosition bool

	// AllowReentryAfterExit permits an account that fully exited to enter a
	// different maturity without a cooldown.
	AllowReentryAfterExit bool

	// RequiresSettlementConversion means vault shares are not fungible
	// across maturities; settlement must ask the strategy to convert share
	// counts into the prime maturity.
	RequiresSettlementConversion bool

	// HasSecondaryBorrows permits debt in the listed secondary currencies.
	HasSecondaryBorrows bool

	// EnableFCashDiscounting values fixed-term debt at a discounted present
	// value rather than face value.
	EnableFCashDiscounting bool
}

// VaultConfig holds the governance-set risk parameters for one vault.
// Read-mostly: written through Registry.Set, which validates invariants so
// configuration errors surface at write time, never during an account
// operation.
type VaultConfig struct {
	VaultID              string
	BorrowCurrencyID     external.CurrencyID
	SecondaryCurrencyIDs []external.CurrencyID

	// MinAccountBorrowSize floors per-account debt magnitude (internal
	// precision). Positions below it must be fully repaid instead.
	MinAccountBorrowSize int64

	// MaxVaultBorrowCapacity ceils total primary debt magnitude.
	MaxVaultBorrowCapacity int64

	// MaxLeverageRatio bounds assets/equity, RatePrecision-scaled;
	// 1.0 == no leverage.
	MaxLeverageRatio int64

	// MaxDeleverageCollateralRatio is the collateral ratio a liquidator may
	// restore an account up to, RatePrecision-scaled.
	MaxDeleverageCollateralRatio int64

	// LiquidationRate is the discount multiplier paid to liquidators,
	// RatePrecision-scaled; 1.04e9 pays a 4% bonus.
	LiquidationRate int64

	FeeRate      FeeRateCurve
	Capabilities Capabilities
}

// Validate checks the configuration invariants.
func (c *VaultConfig) Validate() error {
	if c.VaultID == "" {
		return fmt.Errorf("vault id must not be empty")
	}
	if c.BorrowCurrencyID == 0 {
		return fmt.Errorf("vault %s: borrow currency must be set", c.VaultID)
	}
	if c.MinAccountBorrowSize <= 0 {
		return fmt.Errorf("vault %s: min account borrow size must be > 0, got %d", c.VaultID, c.MinAccountBorrowSize)
	}
	if c.MaxVaultBorrowCapacity < c.MinAccountBorrowSize {
		return fmt.Errorf("vault %s: borrow capacity (%d) must be >= min account borrow size (%d)",
			c.VaultID, c.MaxVaultBorrowCapacity, c.MinAccountBorrowSize)
	}
	if c.MaxLeverageRatio <= fpmath.RatePrecision {
		return fmt.Errorf("vault %s: max leverage ratio must be > 1.0, got %d", c.VaultID, c.MaxLeverageRatio)
	}
	if c.LiquidationRate < fpmath.RatePrecision {
		return fmt.Errorf("vault %s: liquidation rate must be >= 1.0, got %d", c.VaultID, c.LiquidationRate)
	}
	if c.MaxDeleverageCollateralRatio <= 0 {
		return fmt.Errorf("vault %s: max deleverage collateral ratio must be > 0, got %d",
			c.VaultID, c.MaxDeleverageCollateralRatio)
	}
	// The deleverage bound solves for a deposit with denominator
	// (1 + maxDeleverageCollateralRatio - liquidationRate); this inequality
	// keeps it strictly positive.
	if c.LiquidationRate >= c.MaxDeleverageCollateralRatio+fpmath.RatePrecision {
		return fmt.Errorf("vault %s: liquidation rate (%d) must be < max deleverage collateral ratio + 1.0 (%d)",
			c.VaultID, c.LiquidationRate, c.MaxDeleverageCollateralRatio+fpmath.RatePrecision)
	}
	if len(c.SecondaryCurrencyIDs) > MaxSecondaryCurrencies {
		return fmt.Errorf("vault %s: at most %d secondary currencies, got %d",
			c.VaultID, MaxSecondaryCurrencies, len(c.SecondaryCurrencyIDs))
	}
	if len(c.SecondaryCurrencyIDs) > 0 && !c.Capabilities.HasSecondaryBorrows {
		return fmt.Errorf("vault %s: secondary currencies listed without HasSecondaryBorrows", c.VaultID)
	}
	for _, id := range c.SecondaryCurrencyIDs {
		if id == 0 || id == c.BorrowCurrencyID {
			return fmt.Errorf("vault %s: invalid secondary currency %d", c.VaultID, id)
		}
	}
	if c.FeeRate.AnnualBaseRate < 0 || c.FeeRate.LeverageSlope < 0 {
		return fmt.Errorf("vault %s: fee rate terms must be >= 0", c.VaultID)
	}
	return nil
}

// Registry holds vault configurations. Read-mostly; PauseEntries may fire
// from a settlement while entries read concurrently.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*VaultConfig
}

func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]*VaultConfig)}
}

// Get returns a copy of the configuration for vaultID.
func (r *Registry) Get(vaultID string) (VaultConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[vaultID]
	if !ok {
		return VaultConfig{}, false
	}
	out := *cfg
	out.SecondaryCurrencyIDs = append([]external.CurrencyID(nil), cfg.SecondaryCurrencyIDs...)
	return out, true
}

// Set validates and stores a configuration.
func (r *Registry) Set(cfg VaultConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid vault config: %w", err)
	}
	stored := cfg
	stored.SecondaryCurrencyIDs = append([]external.CurrencyID(nil), cfg.SecondaryCurrencyIDs...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.VaultID] = &stored
	return nil
}

// PauseEntries disables new entries for a vault. One-way from the engine's
// point of view: only a governance Set re-enables.
func (r *Registry) PauseEntries(vaultID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[vaultID]
	if !ok {
		return fmt.Errorf("unknown vault: %s", vaultID)
	}
	cfg.Capabilities.Enabled = false
	return nil
}

// List returns all configured vault IDs.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	return ids
}
