package registry

import (
	"unicode/utf8"

	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/event"
	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is the slice of the ledger the registry depends on.
type Token interface {
	TransferFrom(call state.Call, from, to common.Address, amount *uint256.Int) error
	BalanceOf(account common.Address) *uint256.Int
}

// Config holds the registry's deployment parameters.
type Config struct {
	// Address is the spender identity tippers approve on the token.
	Address common.Address
	// OneAgentPerWallet rejects registrations from accounts that already
	// receive for another agent.
	OneAgentPerWallet bool
}

// Registry maps external agent identifiers to receiving accounts and
// forwards tips through the token's allowance path.
type Registry struct {
	store   state.Store
	token   Token
	emitter event.Emitter
	address common.Address
	strict  bool
}

func New(store state.Store, token Token, emitter event.Emitter, cfg Config) *Registry {
	if emitter == nil {
		emitter = event.Discard
	}
	return &Registry{
		store:   store,
		token:   token,
		emitter: emitter,
		address: cfg.Address,
		strict:  cfg.OneAgentPerWallet,
	}
}

// Address is the account tippers must approve.
func (r *Registry) Address() common.Address {
	return r.address
}

// RegisterAgent creates a record owned by and paying out to the caller.
// Unless OneAgentPerWallet is set, one account may register several agents
// and the reverse index keeps the most recent binding.
func (r *Registry) RegisterAgent(call state.Call, externalID, displayName string) (*Agent, error) {
	if externalID == "" {
		return nil, cerrors.New(cerrors.CodeInvalidArgument, "empty agent id")
	}
	// Records are stored as JSON, which would rewrite invalid UTF-8.
	if !utf8.ValidString(externalID) || !utf8.ValidString(displayName) {
		return nil, cerrors.New(cerrors.CodeInvalidArgument, "agent id and display name must be valid UTF-8")
	}
	h := IDHash(externalID)
	if _, found, err := loadAgent(r.store, h); err != nil {
		return nil, err
	} else if found {
		return nil, cerrors.New(cerrors.CodeAlreadyRegistered, "",
			cerrors.WithMetadata("agent_id", externalID))
	}
	if r.strict {
		if _, bound := r.WalletToAgent(call.Sender); bound {
			return nil, cerrors.New(cerrors.CodeDuplicateBinding, "",
				cerrors.WithMetadata("wallet", call.Sender.Hex()))
		}
	}

	agent := &Agent{
		ExternalID:   externalID,
		DisplayName:  displayName,
		Owner:        call.Sender,
		Wallet:       call.Sender,
		RegisteredAt: call.Time.UTC(),
		Active:       true,
	}
	if err := storeAgent(r.store, h, agent); err != nil {
		return nil, err
	}

	count := r.AgentCount()
	r.store.Put(orderKey(count), h.Bytes())
	state.PutUint64(r.store, []byte{keyCount}, count+1)
	r.store.Put(walletKey(call.Sender), h.Bytes())

	r.emitter.Emit(&event.AgentRegistered{
		AgentID:     externalID,
		DisplayName: displayName,
		Wallet:      call.Sender,
	})
	return agent, nil
}

// UpdateAgentWallet rebinds the receiving account. Only the registering
// account may do this.
func (r *Registry) UpdateAgentWallet(call state.Call, externalID string, wallet common.Address) error {
	if wallet == (common.Address{}) {
		return cerrors.New(cerrors.CodeInvalidArgument, "wallet is the zero address")
	}
	h := IDHash(externalID)
	agent, err := r.mustGet(h, externalID)
	if err != nil {
		return err
	}
	if call.Sender != agent.Owner {
		return cerrors.New(cerrors.CodeNotOwner, "",
			cerrors.WithMetadata("agent_id", externalID),
			cerrors.WithMetadata("caller", call.Sender.Hex()))
	}

	if bound, ok := r.WalletToAgent(wallet); r.strict && ok && bound != h {
		return cerrors.New(cerrors.CodeDuplicateBinding, "",
			cerrors.WithMetadata("wallet", wallet.Hex()))
	}

	old := agent.Wallet
	agent.Wallet = wallet
	if err := storeAgent(r.store, h, agent); err != nil {
		return err
	}
	if common.BytesToHash(r.store.Get(walletKey(old))) == h {
		r.store.Delete(walletKey(old))
	}
	r.store.Put(walletKey(wallet), h.Bytes())

	r.emitter.Emit(&event.AgentWalletUpdated{AgentID: externalID, OldWallet: old, NewWallet: wallet})
	return nil
}

// Tip pulls amount from the caller through the registry's allowance and
// forwards it, taxed, to the agent's receiving account. Token errors are
// returned unchanged.
func (r *Registry) Tip(call state.Call, externalID string, amount *uint256.Int) error {
	if amount.IsZero() {
		return cerrors.New(cerrors.CodeZeroAmount, "tip amount is zero")
	}
	h := IDHash(externalID)
	agent, err := r.mustGet(h, externalID)
	if err != nil {
		return err
	}
	if !agent.Active {
		return cerrors.New(cerrors.CodeNotActive, "",
			cerrors.WithMetadata("agent_id", externalID))
	}

	if err := r.token.TransferFrom(call.As(r.address), call.Sender, agent.Wallet, amount); err != nil {
		return err
	}

	agent.TipCount++
	if err := storeAgent(r.store, h, agent); err != nil {
		return err
	}
	r.emitter.Emit(&event.TipRecorded{AgentID: externalID, Tipper: call.Sender, Amount: amount.Clone()})
	return nil
}

// === Views ===

// GetAgent returns the record, or found=false for unknown identifiers.
func (r *Registry) GetAgent(externalID string) (*Agent, bool, error) {
	return loadAgent(r.store, IDHash(externalID))
}

// GetLeaderboard returns agents in registration order within
// [offset, offset+limit). Out-of-range pages are empty.
func (r *Registry) GetLeaderboard(offset, limit uint64) ([]*Agent, error) {
	count := r.AgentCount()
	if offset >= count || limit == 0 {
		return []*Agent{}, nil
	}
	end := count
	if limit < count-offset {
		end = offset + limit
	}

	page := make([]*Agent, 0, end-offset)
	for i := offset; i < end; i++ {
		h := common.BytesToHash(r.store.Get(orderKey(i)))
		agent, found, err := loadAgent(r.store, h)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, cerrors.Newf(cerrors.CodeUnknown, "order index %d points at missing agent %s", i, h.Hex())
		}
		page = append(page, agent)
	}
	return page, nil
}

// GetAgentWallet returns the receiving account, zero if unknown.
func (r *Registry) GetAgentWallet(externalID string) (common.Address, error) {
	agent, found, err := r.GetAgent(externalID)
	if err != nil || !found {
		return common.Address{}, err
	}
	return agent.Wallet, nil
}

// GetAgentBalance is the token balance of the receiving account, zero if unknown.
func (r *Registry) GetAgentBalance(externalID string) (*uint256.Int, error) {
	agent, found, err := r.GetAgent(externalID)
	if err != nil {
		return nil, err
	}
	if !found {
		return new(uint256.Int), nil
	}
	return r.token.BalanceOf(agent.Wallet), nil
}

func (r *Registry) AgentCount() uint64 {
	return state.GetUint64(r.store, []byte{keyCount})
}

// WalletToAgent returns the id hash bound to account, ok=false if none.
func (r *Registry) WalletToAgent(account common.Address) (common.Hash, bool) {
	raw := r.store.Get(walletKey(account))
	if raw == nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(raw), true
}

func (r *Registry) mustGet(h common.Hash, externalID string) (*Agent, error) {
	agent, found, err := loadAgent(r.store, h)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cerrors.New(cerrors.CodeNotFound, "",
			cerrors.WithMetadata("agent_id", externalID))
	}
	return agent, nil
}
