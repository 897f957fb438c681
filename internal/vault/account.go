package vault

import (
	"fmt"

	"github.com/google/uuid"
)

// ShareDustBound is the largest share remainder treated as zero when an
// account fully repays. Rounded-down redemptions can strand a few units of a
// share (internal precision 1e8); anything above this is a real position.
const ShareDustBound int64 = 100

// AccountKey identifies a per-(account, vault) position.
type AccountKey struct {
	AccountID uuid.UUID
	VaultID   string
}

// VaultAccount is the position ledger for one account in one vault. Owned
// exclusively by the (account, vault) pair; read and mutated only by engine
// operations acting for that account or for a liquidator acting on it.
type VaultAccount struct {
	AccountID uuid.UUID
	VaultID   string

	// Maturity the position sits in; 0 when the account has never entered.
	Maturity int64

	VaultShares           int64 // >= 0
	AccountDebtUnderlying int64 // <= 0, primary currency

	// SecondaryDebt mirrors AccountDebtUnderlying for the vault's listed
	// secondary currencies, indexed by position in SecondaryCurrencyIDs.
	SecondaryDebt [MaxSecondaryCurrencies]int64

	// TempCashBalance is transient within a single operation and must be
	// exactly zero on every persisted record.
	TempCashBalance int64

	LastUpdateTime int64
}

// HasDebt reports whether any debt is outstanding in any currency.
func (a *VaultAccount) HasDebt() bool {
	if a.AccountDebtUnderlying < 0 {
		return true
	}
	for _, d := range a.SecondaryDebt {
		if d < 0 {
			return true
		}
	}
	return false
}

// IsEmpty reports a fully exited position: no debt and no more than dust in
// shares.
func (a *VaultAccount) IsEmpty() bool {
	return !a.HasDebt() && a.VaultShares <= ShareDustBound
}

// Validate enforces the persist preconditions.
func (a *VaultAccount) Validate() error {
	if a.TempCashBalance != 0 {
		return fmt.Errorf("account %s vault %s: temp cash balance must be 0 on persist, got %d",
			a.AccountID, a.VaultID, a.TempCashBalance)
	}
	if a.VaultShares < 0 {
		return fmt.Errorf("account %s vault %s: shares must be >= 0, got %d", a.AccountID, a.VaultID, a.VaultShares)
	}
	if a.AccountDebtUnderlying > 0 {
		return fmt.Errorf("account %s vault %s: debt must be <= 0, got %d",
			a.AccountID, a.VaultID, a.AccountDebtUnderlying)
	}
	for i, d := range a.SecondaryDebt {
		if d > 0 {
			return fmt.Errorf("account %s vault %s: secondary debt %d must be <= 0, got %d",
				a.AccountID, a.VaultID, i, d)
		}
	}
	return nil
}

// CheckMinBorrow enforces the minimum borrow size: the primary debt magnitude
// is either zero (with shares within the dust bound when fully exiting) or at
// least cfg.MinAccountBorrowSize.
func (a *VaultAccount) CheckMinBorrow(cfg *VaultConfig) error {
	debt := -a.AccountDebtUnderlying
	if debt == 0 {
		return nil
	}
	if debt < cfg.MinAccountBorrowSize {
		return fmt.Errorf("account %s vault %s: debt %d below minimum borrow size %d; repay in full instead",
			a.AccountID, a.VaultID, debt, cfg.MinAccountBorrowSize)
	}
	return nil
}

// AccountStore is the in-memory position ledger. Same value semantics as
// StateStore: copies out, validated copies in.
type AccountStore struct {
	accounts map[AccountKey]VaultAccount
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[AccountKey]VaultAccount)}
}

// Get returns the position for (account, vault), or a zero position if the
// account never entered. The record is created on first persist, not here.
func (as *AccountStore) Get(accountID uuid.UUID, vaultID string) VaultAccount {
	key := AccountKey{AccountID: accountID, VaultID: vaultID}
	if a, ok := as.accounts[key]; ok {
		return a
	}
	return VaultAccount{AccountID: accountID, VaultID: vaultID}
}

// Put validates and stores a position. The record survives full exit (debt
// and shares at zero) to support re-entry.
func (as *AccountStore) Put(a VaultAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	as.accounts[AccountKey{AccountID: a.AccountID, VaultID: a.VaultID}] = a
	return nil
}

// ForVaultMaturity returns all positions in one vault maturity.
func (as *AccountStore) ForVaultMaturity(vaultID string, maturity int64) []VaultAccount {
	out := make([]VaultAccount, 0)
	for key, a := range as.accounts {
		if key.VaultID == vaultID && a.Maturity == maturity {
			out = append(out, a)
		}
	}
	return out
}

// Snapshot returns a copy of all positions.
func (as *AccountStore) Snapshot() []VaultAccount {
	out := make([]VaultAccount, 0, len(as.accounts))
	for _, a := range as.accounts {
		out = append(out, a)
	}
	return out
}

// Restore loads a position directly (warm start from persistence).
func (as *AccountStore) Restore(a VaultAccount) {
	as.accounts[AccountKey{AccountID: a.AccountID, VaultID: a.VaultID}] = a
}
