package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// VaultMinted: User deposited ReserveIn and received TokensOut.
type VaultMinted struct {
	User      common.Address `json:"user"`
	ReserveIn *uint256.Int   `json:"reserve_in"`
	TokensOut *uint256.Int   `json:"tokens_out"`
}

func (*VaultMinted) EventType() EventType { return EventTypeVaultMinted }

// VaultRedeemed: User burned TokensIn and is owed ReserveOut (after tax).
type VaultRedeemed struct {
	User       common.Address `json:"user"`
	TokensIn   *uint256.Int   `json:"tokens_in"`
	ReserveOut *uint256.Int   `json:"reserve_out"`
}

func (*VaultRedeemed) EventType() EventType { return EventTypeVaultRedeemed }

// ReservePaid records reserve currency handed to an account by the payer.
type ReservePaid struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (*ReservePaid) EventType() EventType { return EventTypeReservePaid }
