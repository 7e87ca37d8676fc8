package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants against the committed state.
type InvariantValidator struct {
	tracker   *BalanceTracker
	maxSupply *uint256.Int
}

func NewInvariantValidator(l *Ledger) *InvariantValidator {
	return &InvariantValidator{
		tracker:   l.tracker,
		maxSupply: l.maxSupply,
	}
}

// ValidateConservation verifies sum(balances) + totalBurned == totalMinted.
func (v *InvariantValidator) ValidateConservation() error {
	sum := new(uint256.Int)
	overflow := false
	v.tracker.ForEachBalance(func(_ common.Address, balance *uint256.Int) bool {
		if _, of := sum.AddOverflow(sum, balance); of {
			overflow = true
			return false
		}
		return true
	})
	if overflow {
		return fmt.Errorf("sum of balances overflows uint256")
	}

	burned := v.tracker.TotalBurned()
	minted := v.tracker.TotalMinted()
	total, of := new(uint256.Int).AddOverflow(sum, burned)
	if of || !total.Eq(minted) {
		return fmt.Errorf("conservation broken: balances %s + burned %s != minted %s",
			sum.Dec(), burned.Dec(), minted.Dec())
	}
	return nil
}

// ValidateSupplyCeiling verifies totalBurned <= totalMinted <= maxSupply.
func (v *InvariantValidator) ValidateSupplyCeiling() error {
	minted := v.tracker.TotalMinted()
	if minted.Gt(v.maxSupply) {
		return fmt.Errorf("total minted %s exceeds max supply %s", minted.Dec(), v.maxSupply.Dec())
	}
	if burned := v.tracker.TotalBurned(); burned.Gt(minted) {
		return fmt.Errorf("total burned %s exceeds total minted %s", burned.Dec(), minted.Dec())
	}
	return nil
}

// Validate runs every ledger invariant.
func (v *InvariantValidator) Validate() error {
	if err := v.ValidateSupplyCeiling(); err != nil {
		return err
	}
	return v.ValidateConservation()
}
