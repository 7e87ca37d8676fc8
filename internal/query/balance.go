package query

import (
	"context"

	fpmath "Clawboard/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceResponse represents an account's holdings for API queries.
type BalanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
	// NativeBalance is reserve paid out by redemptions and not yet claimed.
	NativeBalance string `json:"native_balance"`
	Excluded      bool   `json:"excluded"`
	// AgentIDHash is set when the account receives tips for an agent.
	AgentIDHash  string `json:"agent_id_hash,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// AllowanceResponse represents an owner→spender allowance.
type AllowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
	// Unlimited is true for the max-uint256 allowance, which transfers
	// never decrement.
	Unlimited    bool  `json:"unlimited"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// GetBalance returns the token and native balances of account.
func (s *Service) GetBalance(ctx context.Context, account common.Address) (resp *BalanceResponse, err error) {
	defer s.observe("balance", s.now(), &err)

	resp = &BalanceResponse{
		Account:       account.Hex(),
		Balance:       s.engine.BalanceOf(account).Dec(),
		NativeBalance: s.engine.NativeBalanceOf(account).Dec(),
		Excluded:      s.engine.IsExcluded(account),
		AsOfSequence:  s.engine.Head().Sequence,
	}
	if h, ok := s.engine.WalletToAgent(account); ok {
		resp.AgentIDHash = h.Hex()
	}
	return resp, nil
}

// GetAllowance returns the remaining allowance owner granted spender.
func (s *Service) GetAllowance(ctx context.Context, owner, spender common.Address) (resp *AllowanceResponse, err error) {
	defer s.observe("allowance", s.now(), &err)

	allowance := s.engine.Allowance(owner, spender)
	return &AllowanceResponse{
		Owner:        owner.Hex(),
		Spender:      spender.Hex(),
		Allowance:    allowance.Dec(),
		Unlimited:    fpmath.IsUnlimited(allowance),
		AsOfSequence: s.engine.Head().Sequence,
	}, nil
}
