package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transfer is emitted for every balance movement between accounts. On a
// taxed transfer Amount is the net amount received by To.
type Transfer struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (*Transfer) EventType() EventType { return EventTypeTransfer }

// Approval is emitted when an allowance is set.
type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (*Approval) EventType() EventType { return EventTypeApproval }

// TaxCollected records the team and burn cuts of one taxed transfer.
type TaxCollected struct {
	From    common.Address `json:"from"`
	Team    common.Address `json:"team"`
	TeamCut *uint256.Int   `json:"team_cut"`
	BurnCut *uint256.Int   `json:"burn_cut"`
}

func (*TaxCollected) EventType() EventType { return EventTypeTaxCollected }

// Burned records an explicit burn (self-burn or vault burn-from).
type Burned struct {
	From   common.Address `json:"from"`
	Amount *uint256.Int   `json:"amount"`
}

func (*Burned) EventType() EventType { return EventTypeBurned }

// Minted records new supply issued by the vault.
type Minted struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (*Minted) EventType() EventType { return EventTypeMinted }

type VaultSet struct {
	Vault common.Address `json:"vault"`
}

func (*VaultSet) EventType() EventType { return EventTypeVaultSet }

type ExclusionUpdated struct {
	Account  common.Address `json:"account"`
	Excluded bool           `json:"excluded"`
}

func (*ExclusionUpdated) EventType() EventType { return EventTypeExclusionUpdated }
