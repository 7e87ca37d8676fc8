package vault

import (
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/event"
	fpmath "Clawboard/internal/math"
	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeBook is the service-side Payer: redeemed reserve is credited to a
// claimable per-account balance kept in the shared store, so payouts commit
// and roll back with the command that produced them.
type NativeBook struct {
	store   state.Store
	emitter event.Emitter
}

func NewNativeBook(store state.Store, emitter event.Emitter) *NativeBook {
	if emitter == nil {
		emitter = event.Discard
	}
	return &NativeBook{store: store, emitter: emitter}
}

func (b *NativeBook) Pay(_ state.Call, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return cerrors.New(cerrors.CodeInvalidArgument, "payout to the zero address")
	}
	key := state.Key(prefixNative, to.Bytes())
	bal, ok := fpmath.Add(state.GetUint(b.store, key), amount)
	if !ok {
		return overflow("native balance", amount)
	}
	state.PutUint(b.store, key, bal)
	b.emitter.Emit(&event.ReservePaid{To: to, Amount: amount.Clone()})
	return nil
}

// NativeBalanceOf returns the reserve paid out to account so far.
func (b *NativeBook) NativeBalanceOf(account common.Address) *uint256.Int {
	return state.GetUint(b.store, state.Key(prefixNative, account.Bytes()))
}
