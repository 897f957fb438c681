package vault_test

import (
	"testing"

	"VaultLedger/internal/vault"
)

func TestStateStore_GetLazy(t *testing.T) {
	ss := vault.NewStateStore()

	s := ss.Get("vault-eth", 10_000)
	if s.VaultID != "vault-eth" || s.Maturity != 10_000 {
		t.Fatalf("unexpected key: %+v", s)
	}
	if s.TotalDebtUnderlying != 0 || s.TotalVaultShares != 0 || s.IsSettled {
		t.Errorf("lazy state should be empty and active: %+v", s)
	}
	if s.ShareConversionRate != rate {
		t.Errorf("lazy state conversion rate should be 1.0, got %d", s.ShareConversionRate)
	}
	if s.DebtWriteDownRate != rate {
		t.Errorf("lazy state write-down rate should be 1.0, got %d", s.DebtWriteDownRate)
	}
}

func TestStateStore_PutValidates(t *testing.T) {
	ss := vault.NewStateStore()

	s := ss.Get("vault-eth", 10_000)
	s.TotalDebtUnderlying = 5
	if err := ss.Put(s); err == nil {
		t.Error("positive debt should be rejected")
	}

	s = ss.Get("vault-eth", 10_000)
	s.TotalVaultShares = -1
	if err := ss.Put(s); err == nil {
		t.Error("negative shares should be rejected")
	}

	s = ss.Get("vault-eth", 10_000)
	s.TotalDebtUnderlying = -1000 * unit
	s.TotalVaultShares = 1250 * unit
	if err := ss.Put(s); err != nil {
		t.Errorf("valid state rejected: %v", err)
	}
}

func TestStateStore_MarkSettled(t *testing.T) {
	ss := vault.NewStateStore()

	s := ss.Get("vault-eth", 10_000)
	s.TotalDebtUnderlying = -1000 * unit
	s.TotalVaultShares = 1250 * unit
	if err := ss.Put(s); err != nil {
		t.Fatal(err)
	}

	if err := ss.MarkSettled("vault-eth", 10_000, 900_000_000, 750_000_000); err != nil {
		t.Fatalf("MarkSettled failed: %v", err)
	}

	settled := ss.Get("vault-eth", 10_000)
	if !settled.IsSettled {
		t.Fatal("expected settled")
	}
	if settled.TotalDebtUnderlying != 0 {
		t.Errorf("settled debt should be zero, got %d", settled.TotalDebtUnderlying)
	}
	if settled.TotalVaultShares != 0 {
		t.Errorf("settled shares should migrate out, got %d", settled.TotalVaultShares)
	}
	if settled.ShareConversionRate != 900_000_000 {
		t.Errorf("conversion rate not recorded: %d", settled.ShareConversionRate)
	}
	if settled.DebtWriteDownRate != 750_000_000 {
		t.Errorf("write-down rate not recorded: %d", settled.DebtWriteDownRate)
	}

	// Idempotent: a second settlement with different rates is a no-op.
	if err := ss.MarkSettled("vault-eth", 10_000, 500_000_000, rate); err != nil {
		t.Fatalf("second MarkSettled should be a no-op: %v", err)
	}
	if got := ss.Get("vault-eth", 10_000); got.ShareConversionRate != 900_000_000 || got.DebtWriteDownRate != 750_000_000 {
		t.Errorf("rates changed on repeat settlement: %+v", got)
	}
}

func TestStateStore_MarkSettledPrimeRefused(t *testing.T) {
	ss := vault.NewStateStore()
	if err := ss.MarkSettled("vault-eth", vault.PrimeMaturity, rate, rate); err == nil {
		t.Error("prime maturity must never settle")
	}
	if err := ss.MarkSettled("vault-eth", 10_000, 0, rate); err == nil {
		t.Error("non-positive conversion rate must be rejected")
	}
	if err := ss.MarkSettled("vault-eth", 10_000, rate, -1); err == nil {
		t.Error("negative write-down rate must be rejected")
	}
	if err := ss.MarkSettled("vault-eth", 10_000, rate, rate+1); err == nil {
		t.Error("write-down rate above 1.0 must be rejected")
	}
}

func TestStateStore_SettledFrozen(t *testing.T) {
	ss := vault.NewStateStore()
	s := ss.Get("vault-eth", 10_000)
	s.TotalVaultShares = 1000
	if err := ss.Put(s); err != nil {
		t.Fatal(err)
	}
	if err := ss.MarkSettled("vault-eth", 10_000, rate, rate); err != nil {
		t.Fatal(err)
	}

	mutated := ss.Get("vault-eth", 10_000)
	mutated.TotalVaultShares += 50
	if err := ss.Put(mutated); err == nil {
		t.Error("mutating a settled aggregate must be refused")
	}

	// Writing back the identical record is a permitted no-op.
	same := ss.Get("vault-eth", 10_000)
	if err := ss.Put(same); err != nil {
		t.Errorf("identical write should pass: %v", err)
	}
}

func TestStateStore_SnapshotRestore(t *testing.T) {
	ss := vault.NewStateStore()
	s := ss.Get("vault-eth", 10_000)
	s.TotalDebtUnderlying = -500 * unit
	s.TotalVaultShares = 600 * unit
	if err := ss.Put(s); err != nil {
		t.Fatal(err)
	}

	snap := ss.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 state, got %d", len(snap))
	}

	restored := vault.NewStateStore()
	for _, st := range snap {
		restored.Restore(st)
	}
	if got := restored.Get("vault-eth", 10_000); got != s {
		t.Errorf("restore mismatch: %+v vs %+v", got, s)
	}
}
