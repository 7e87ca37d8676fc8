package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type AgentRegistered struct {
	AgentID     string         `json:"agent_id"`
	DisplayName string         `json:"display_name"`
	Wallet      common.Address `json:"wallet"`
}

func (*AgentRegistered) EventType() EventType { return EventTypeAgentRegistered }

type AgentWalletUpdated struct {
	AgentID   string         `json:"agent_id"`
	OldWallet common.Address `json:"old_wallet"`
	NewWallet common.Address `json:"new_wallet"`
}

func (*AgentWalletUpdated) EventType() EventType { return EventTypeAgentWalletUpdated }

// TipRecorded carries the pre-tax amount pulled from the tipper.
type TipRecorded struct {
	AgentID string         `json:"agent_id"`
	Tipper  common.Address `json:"tipper"`
	Amount  *uint256.Int   `json:"amount"`
}

func (*TipRecorded) EventType() EventType { return EventTypeTipRecorded }
