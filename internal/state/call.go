package state

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Call is the execution context of one operation: who is calling, how much
// reserve currency they attached, and the versioned time of the command
// (never wall-clock, so replays are deterministic).
type Call struct {
	Sender common.Address
	Value  *uint256.Int
	Time   time.Time
}

// As returns a copy of c issued by another account with no value attached.
// Components use it when they call into the ledger on their own behalf.
func (c Call) As(sender common.Address) Call {
	return Call{Sender: sender, Value: new(uint256.Int), Time: c.Time}
}

// AttachedValue returns the attached reserve amount, zero if none.
func (c Call) AttachedValue() *uint256.Int {
	if c.Value == nil {
		return new(uint256.Int)
	}
	return c.Value
}
