package core

import (
	"time"

	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CommandType discriminates mutating commands.
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeTransfer
	CommandTypeApprove
	CommandTypeTransferFrom
	CommandTypeBurn
	CommandTypeSetVault
	CommandTypeSetExcluded
	CommandTypeRegisterAgent
	CommandTypeUpdateAgentWallet
	CommandTypeTip
	CommandTypeVaultMint
	CommandTypeVaultRedeem
)

var commandTypeNames = map[CommandType]string{
	CommandTypeTransfer:          "Transfer",
	CommandTypeApprove:           "Approve",
	CommandTypeTransferFrom:      "TransferFrom",
	CommandTypeBurn:              "Burn",
	CommandTypeSetVault:          "SetVault",
	CommandTypeSetExcluded:       "SetExcluded",
	CommandTypeRegisterAgent:     "RegisterAgent",
	CommandTypeUpdateAgentWallet: "UpdateAgentWallet",
	CommandTypeTip:               "Tip",
	CommandTypeVaultMint:         "VaultMint",
	CommandTypeVaultRedeem:       "VaultRedeem",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType is the inverse of String; case-sensitive.
func ParseCommandType(name string) (CommandType, bool) {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct, true
		}
	}
	return CommandTypeUnknown, false
}

// Meta is carried by every command.
type Meta struct {
	// RequestID is the idempotency key; resubmitting it is a no-op.
	RequestID uuid.UUID
	Sender    common.Address
	// Timestamp is versioned by the submitter. The engine never reads the
	// wall clock.
	Timestamp time.Time
}

// Command is the interface all mutating commands implement.
type Command interface {
	CommandType() CommandType
	Metadata() Meta
}

func (m Meta) Metadata() Meta { return m }

func (m Meta) call() state.Call {
	return state.Call{Sender: m.Sender, Value: new(uint256.Int), Time: m.Timestamp}
}

type Transfer struct {
	Meta
	To     common.Address
	Amount *uint256.Int
}

type Approve struct {
	Meta
	Spender common.Address
	Amount  *uint256.Int
}

// TransferFrom is issued by the spender (Meta.Sender).
type TransferFrom struct {
	Meta
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

type Burn struct {
	Meta
	Amount *uint256.Int
}

type SetVault struct {
	Meta
	Vault common.Address
}

type SetExcluded struct {
	Meta
	Account  common.Address
	Excluded bool
}

type RegisterAgent struct {
	Meta
	AgentID     string
	DisplayName string
}

type UpdateAgentWallet struct {
	Meta
	AgentID string
	Wallet  common.Address
}

type Tip struct {
	Meta
	AgentID string
	Amount  *uint256.Int
}

// VaultMint deposits Value reserve units.
type VaultMint struct {
	Meta
	Value *uint256.Int
}

type VaultRedeem struct {
	Meta
	Amount *uint256.Int
}

func (*Transfer) CommandType() CommandType          { return CommandTypeTransfer }
func (*Approve) CommandType() CommandType           { return CommandTypeApprove }
func (*TransferFrom) CommandType() CommandType      { return CommandTypeTransferFrom }
func (*Burn) CommandType() CommandType              { return CommandTypeBurn }
func (*SetVault) CommandType() CommandType          { return CommandTypeSetVault }
func (*SetExcluded) CommandType() CommandType       { return CommandTypeSetExcluded }
func (*RegisterAgent) CommandType() CommandType     { return CommandTypeRegisterAgent }
func (*UpdateAgentWallet) CommandType() CommandType { return CommandTypeUpdateAgentWallet }
func (*Tip) CommandType() CommandType               { return CommandTypeTip }
func (*VaultMint) CommandType() CommandType         { return CommandTypeVaultMint }
func (*VaultRedeem) CommandType() CommandType       { return CommandTypeVaultRedeem }
