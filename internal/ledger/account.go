package ledger

import (
	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// Storage layout. Every ledger key starts with one of these prefix bytes;
// the registry and the vault use disjoint ranges (0x2x, 0x3x).
const (
	prefixBalance   byte = 0x10 // 0x10 || account            -> uint256
	prefixAllowance byte = 0x11 // 0x11 || owner || spender   -> uint256
	prefixExcluded  byte = 0x12 // 0x12 || account            -> flag
	keyTotalMinted  byte = 0x13
	keyTotalBurned  byte = 0x14
	keyVault        byte = 0x15
)

// BalancePrefix is exported for state inspection tools and the invariant
// validator.
var BalancePrefix = []byte{prefixBalance}

func balanceKey(account common.Address) []byte {
	return state.Key(prefixBalance, account.Bytes())
}

func allowanceKey(owner, spender common.Address) []byte {
	return state.Key(prefixAllowance, owner.Bytes(), spender.Bytes())
}

func excludedKey(account common.Address) []byte {
	return state.Key(prefixExcluded, account.Bytes())
}

// AccountFromBalanceKey recovers the account of a balance key.
func AccountFromBalanceKey(key []byte) (common.Address, bool) {
	if len(key) != 1+common.AddressLength || key[0] != prefixBalance {
		return common.Address{}, false
	}
	return common.BytesToAddress(key[1:]), true
}
