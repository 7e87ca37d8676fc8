package ledger

import (
	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker is the typed view of the ledger's slice of the state store.
// It performs no validation; the token operations check before they write.
type BalanceTracker struct {
	store state.Store
}

func NewBalanceTracker(store state.Store) *BalanceTracker {
	return &BalanceTracker{store: store}
}

// GetBalance returns the balance of account (zero for unknown accounts).
func (bt *BalanceTracker) GetBalance(account common.Address) *uint256.Int {
	return state.GetUint(bt.store, balanceKey(account))
}

func (bt *BalanceTracker) setBalance(account common.Address, v *uint256.Int) {
	state.PutUint(bt.store, balanceKey(account), v)
}

// credit adds amount to account. Balances are bounded by the supply
// ceiling, so the addition cannot overflow.
func (bt *BalanceTracker) credit(account common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	bal := bt.GetBalance(account)
	bt.setBalance(account, bal.Add(bal, amount))
}

// debit subtracts amount; callers have already checked the balance.
func (bt *BalanceTracker) debit(account common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	bal := bt.GetBalance(account)
	bt.setBalance(account, bal.Sub(bal, amount))
}

func (bt *BalanceTracker) GetAllowance(owner, spender common.Address) *uint256.Int {
	return state.GetUint(bt.store, allowanceKey(owner, spender))
}

func (bt *BalanceTracker) setAllowance(owner, spender common.Address, v *uint256.Int) {
	state.PutUint(bt.store, allowanceKey(owner, spender), v)
}

func (bt *BalanceTracker) TotalMinted() *uint256.Int {
	return state.GetUint(bt.store, []byte{keyTotalMinted})
}

func (bt *BalanceTracker) setTotalMinted(v *uint256.Int) {
	state.PutUint(bt.store, []byte{keyTotalMinted}, v)
}

func (bt *BalanceTracker) TotalBurned() *uint256.Int {
	return state.GetUint(bt.store, []byte{keyTotalBurned})
}

func (bt *BalanceTracker) addBurned(amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	burned := bt.TotalBurned()
	state.PutUint(bt.store, []byte{keyTotalBurned}, burned.Add(burned, amount))
}

// CirculatingSupply returns totalMinted - totalBurned.
func (bt *BalanceTracker) CirculatingSupply() *uint256.Int {
	minted := bt.TotalMinted()
	return minted.Sub(minted, bt.TotalBurned())
}

func (bt *BalanceTracker) IsExcluded(account common.Address) bool {
	return state.GetBool(bt.store, excludedKey(account))
}

func (bt *BalanceTracker) setExcluded(account common.Address, excluded bool) {
	state.PutBool(bt.store, excludedKey(account), excluded)
}

func (bt *BalanceTracker) Vault() common.Address {
	return state.GetAddress(bt.store, []byte{keyVault})
}

func (bt *BalanceTracker) setVault(vault common.Address) {
	state.PutAddress(bt.store, []byte{keyVault}, vault)
}

// ForEachBalance visits every non-zero balance in ascending account order.
func (bt *BalanceTracker) ForEachBalance(fn func(account common.Address, balance *uint256.Int) bool) {
	bt.store.Iterate(BalancePrefix, func(key, value []byte) bool {
		account, ok := AccountFromBalanceKey(key)
		if !ok {
			return true
		}
		return fn(account, new(uint256.Int).SetBytes(value))
	})
}
