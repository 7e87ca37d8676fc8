package ledger

import (
	fpmath "Clawboard/internal/math"

	"github.com/holiman/uint256"
)

const (
	// TeamTaxRate is the per-mille share of a taxed transfer paid to the team wallet (4.2%).
	TeamTaxRate = 42
	// BurnTaxRate is the per-mille share of a taxed transfer destroyed (6.9%).
	BurnTaxRate = 69
)

// TaxSplit is the three-way division of a taxed transfer.
// Net + Team + Burn == the transferred amount, always.
type TaxSplit struct {
	Net  *uint256.Int
	Team *uint256.Int
	Burn *uint256.Int
}

// SplitTax divides amount into team and burn cuts (each floored) and the
// remainder. Net is computed as the remainder, never as its own percentage,
// so no unit is lost or created by rounding.
func SplitTax(amount *uint256.Int) TaxSplit {
	team := fpmath.PerMilleOf(amount, TeamTaxRate)
	burn := fpmath.PerMilleOf(amount, BurnTaxRate)
	net := new(uint256.Int).Sub(amount, team)
	net.Sub(net, burn)
	return TaxSplit{Net: net, Team: team, Burn: burn}
}

// NoTax is the split of an untaxed transfer.
func NoTax(amount *uint256.Int) TaxSplit {
	return TaxSplit{Net: amount.Clone(), Team: new(uint256.Int), Burn: new(uint256.Int)}
}
