package vault

import (
	"fmt"

	fpmath "VaultLedger/internal/math"
)

// PrimeMaturity is the sentinel maturity of the ever-open variable-rate
// term. It sorts after every fixed maturity and never settles.
const PrimeMaturity int64 = 1<<62 - 1

// StateKey identifies a per-(vault, maturity) aggregate.
type StateKey struct {
	VaultID  string
	Maturity int64
}

// VaultState is the aggregate ledger for one vault maturity. Debt is stored
// as a non-positive quantity; shares are non-negative. Both move only through
// engine operations, never directly.
type VaultState struct {
	VaultID  string
	Maturity int64

	TotalDebtUnderlying int64 // <= 0
	TotalVaultShares    int64 // >= 0

	// IsSettled flips exactly once, at or after expiry. A settled maturity
	// never accepts new entries.
	IsSettled bool

	// ShareConversionRate records the fixed-to-prime share conversion applied
	// at settlement (RatePrecision-scaled). Accounts settling later convert
	// their own share counts at this rate. RatePrecision when shares are
	// fungible across maturities.
	ShareConversionRate int64

	// DebtWriteDownRate records the fraction of the settled debt that
	// survived the insurance draw (RatePrecision-scaled). Accounts settling
	// later scale their converted debt by this rate, so the per-account sum
	// tracks the migrated prime aggregate. RatePrecision when the pool was
	// not drawn; zero when the draw retired the debt in full.
	DebtWriteDownRate int64
}

// Validate enforces the sign invariants.
func (s *VaultState) Validate() error {
	if s.TotalDebtUnderlying > 0 {
		return fmt.Errorf("vault %s maturity %d: total debt must be <= 0, got %d",
			s.VaultID, s.Maturity, s.TotalDebtUnderlying)
	}
	if s.TotalVaultShares < 0 {
		return fmt.Errorf("vault %s maturity %d: total shares must be >= 0, got %d",
			s.VaultID, s.Maturity, s.TotalVaultShares)
	}
	if s.ShareConversionRate <= 0 {
		return fmt.Errorf("vault %s maturity %d: share conversion rate must be > 0", s.VaultID, s.Maturity)
	}
	if s.DebtWriteDownRate < 0 || s.DebtWriteDownRate > fpmath.RatePrecision {
		return fmt.Errorf("vault %s maturity %d: debt write-down rate must be in [0, 1.0], got %d",
			s.VaultID, s.Maturity, s.DebtWriteDownRate)
	}
	return nil
}

// StateStore is the in-memory ledger of per-(vault, maturity) aggregates.
// Value semantics: Get returns a copy, Put validates and stores a copy, so an
// aborted operation leaves the ledger byte-for-byte unchanged.
type StateStore struct {
	states map[StateKey]VaultState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[StateKey]VaultState)}
}

// Get returns the aggregate for (vault, maturity), lazily materializing an
// empty active state on first reference.
func (ss *StateStore) Get(vaultID string, maturity int64) VaultState {
	key := StateKey{VaultID: vaultID, Maturity: maturity}
	if s, ok := ss.states[key]; ok {
		return s
	}
	return VaultState{
		VaultID:             vaultID,
		Maturity:            maturity,
		ShareConversionRate: fpmath.RatePrecision,
		DebtWriteDownRate:   fpmath.RatePrecision,
	}
}

// Put validates and stores an aggregate. Mutating a settled fixed maturity is
// refused except for the settlement transition itself.
func (ss *StateStore) Put(s VaultState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	key := StateKey{VaultID: s.VaultID, Maturity: s.Maturity}
	if prev, ok := ss.states[key]; ok && prev.IsSettled && s.Maturity != PrimeMaturity {
		// Settled aggregates are frozen; only identical writes pass (no-op).
		if prev != s {
			return fmt.Errorf("vault %s maturity %d: aggregate is settled", s.VaultID, s.Maturity)
		}
	}
	ss.states[key] = s
	return nil
}

// MarkSettled performs the one-way Active -> Settled transition for a fixed
// maturity. The caller (the settlement operation) has already migrated the
// residual debt and share totals into the prime aggregate; this zeroes both
// on the settled record and pins the conversion rates accounts settle at.
// Idempotent: a second call is a no-op.
func (ss *StateStore) MarkSettled(vaultID string, maturity int64, conversionRate, writeDownRate int64) error {
	if maturity == PrimeMaturity {
		return fmt.Errorf("vault %s: prime maturity never settles", vaultID)
	}
	if conversionRate <= 0 {
		return fmt.Errorf("vault %s maturity %d: conversion rate must be > 0", vaultID, maturity)
	}
	if writeDownRate < 0 || writeDownRate > fpmath.RatePrecision {
		return fmt.Errorf("vault %s maturity %d: write-down rate must be in [0, 1.0], got %d",
			vaultID, maturity, writeDownRate)
	}
	key := StateKey{VaultID: vaultID, Maturity: maturity}
	s := ss.Get(vaultID, maturity)
	if s.IsSettled {
		return nil
	}
	s.TotalDebtUnderlying = 0
	s.TotalVaultShares = 0
	s.IsSettled = true
	s.ShareConversionRate = conversionRate
	s.DebtWriteDownRate = writeDownRate
	ss.states[key] = s
	return nil
}

// Snapshot returns a copy of all aggregates.
func (ss *StateStore) Snapshot() []VaultState {
	out := make([]VaultState, 0, len(ss.states))
	for _, s := range ss.states {
		out = append(out, s)
	}
	return out
}

// Restore loads an aggregate directly (warm start from persistence).
func (ss *StateStore) Restore(s VaultState) {
	ss.states[StateKey{VaultID: s.VaultID, Maturity: s.Maturity}] = s
}
