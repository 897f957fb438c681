package vault_test

import (
	"testing"

	"github.com/google/uuid"

	"VaultLedger/internal/vault"
)

func TestVaultAccount_Validate(t *testing.T) {
	a := vault.VaultAccount{
		AccountID:             uuid.New(),
		VaultID:               "vault-eth",
		Maturity:              10_000,
		VaultShares:           1250 * unit,
		AccountDebtUnderlying: -1000 * unit,
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("valid account rejected: %v", err)
	}

	bad := a
	bad.VaultShares = -1
	if err := bad.Validate(); err == nil {
		t.Error("negative shares should be rejected")
	}

	bad = a
	bad.AccountDebtUnderlying = 1
	if err := bad.Validate(); err == nil {
		t.Error("positive debt should be rejected")
	}

	bad = a
	bad.SecondaryDebt[1] = 5
	if err := bad.Validate(); err == nil {
		t.Error("positive secondary debt should be rejected")
	}

	bad = a
	bad.TempCashBalance = 1
	if err := bad.Validate(); err == nil {
		t.Error("non-zero temp cash must not persist")
	}
}

func TestVaultAccount_HasDebt(t *testing.T) {
	var a vault.VaultAccount
	if a.HasDebt() {
		t.Error("empty account has no debt")
	}
	a.AccountDebtUnderlying = -1
	if !a.HasDebt() {
		t.Error("primary debt not detected")
	}
	a.AccountDebtUnderlying = 0
	a.SecondaryDebt[0] = -1
	if !a.HasDebt() {
		t.Error("secondary debt not detected")
	}
}

func TestVaultAccount_IsEmpty(t *testing.T) {
	var a vault.VaultAccount
	if !a.IsEmpty() {
		t.Error("zero account is empty")
	}

	a.VaultShares = vault.ShareDustBound
	if !a.IsEmpty() {
		t.Error("dust-only account is empty")
	}

	a.VaultShares = vault.ShareDustBound + 1
	if a.IsEmpty() {
		t.Error("above dust bound is a real position")
	}

	a.VaultShares = 0
	a.SecondaryDebt[1] = -1
	if a.IsEmpty() {
		t.Error("account with secondary debt is not empty")
	}
}

func TestVaultAccount_CheckMinBorrow(t *testing.T) {
	cfg := testConfig()

	a := vault.VaultAccount{AccountDebtUnderlying: 0}
	if err := a.CheckMinBorrow(&cfg); err != nil {
		t.Errorf("zero debt passes: %v", err)
	}

	a.AccountDebtUnderlying = -cfg.MinAccountBorrowSize
	if err := a.CheckMinBorrow(&cfg); err != nil {
		t.Errorf("debt at the minimum passes: %v", err)
	}

	a.AccountDebtUnderlying = -(cfg.MinAccountBorrowSize - 1)
	if err := a.CheckMinBorrow(&cfg); err == nil {
		t.Error("debt below the minimum must be rejected")
	}
}

func TestAccountStore_GetPut(t *testing.T) {
	as := vault.NewAccountStore()
	accountID := uuid.New()

	// Never-entered accounts read as zero positions.
	a := as.Get(accountID, "vault-eth")
	if a.Maturity != 0 || a.VaultShares != 0 || a.HasDebt() {
		t.Fatalf("expected zero position, got %+v", a)
	}

	a.Maturity = 10_000
	a.VaultShares = 500
	a.AccountDebtUnderlying = -400 * unit
	if err := as.Put(a); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got := as.Get(accountID, "vault-eth")
	if got != a {
		t.Errorf("round trip mismatch: %+v vs %+v", got, a)
	}

	// A full exit keeps the record for re-entry.
	got.VaultShares = 0
	got.AccountDebtUnderlying = 0
	if err := as.Put(got); err != nil {
		t.Fatalf("exited record rejected: %v", err)
	}
	if again := as.Get(accountID, "vault-eth"); again.Maturity != 10_000 {
		t.Errorf("exited record lost its maturity: %+v", again)
	}
}

func TestAccountStore_ForVaultMaturity(t *testing.T) {
	as := vault.NewAccountStore()
	for i := 0; i < 3; i++ {
		a := as.Get(uuid.New(), "vault-eth")
		a.Maturity = 10_000
		a.VaultShares = int64(i+1) * 100
		if err := as.Put(a); err != nil {
			t.Fatal(err)
		}
	}
	other := as.Get(uuid.New(), "vault-eth")
	other.Maturity = 20_000
	other.VaultShares = 50
	if err := as.Put(other); err != nil {
		t.Fatal(err)
	}

	got := as.ForVaultMaturity("vault-eth", 10_000)
	if len(got) != 3 {
		t.Errorf("expected 3 positions, got %d", len(got))
	}
}
