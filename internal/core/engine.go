package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/event"
	"Clawboard/internal/ledger"
	"Clawboard/internal/observability"
	"Clawboard/internal/registry"
	"Clawboard/internal/state"
	"Clawboard/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Config wires the three components and the engine's own knobs.
type Config struct {
	Ledger   ledger.Config
	Registry registry.Config
	Vault    vault.Config

	// LRUCapacity bounds the tier-1 idempotency cache.
	LRUCapacity int

	// InvariantCheckInterval runs the full conservation check every N
	// commands; 0 or 1 checks after every command.
	InvariantCheckInterval int64
}

// Head identifies the last applied command.
type Head struct {
	Sequence  int64
	StateHash [32]byte
	StateRoot StateRoot
}

// CoreOutput is everything persistence and publishing need about one
// applied command.
type CoreOutput struct {
	Sequence  int64
	RequestID uuid.UUID
	Command   string
	Sender    common.Address
	Timestamp time.Time

	Envelopes []*event.EventEnvelope
	Changes   []state.Change

	StateHash [32]byte
	PrevHash  [32]byte
	StateRoot StateRoot
}

// Result is returned to the submitter of a command.
type Result struct {
	Sequence  int64
	Duplicate bool
	Events    []event.Event
	StateHash [32]byte

	// Output is the operation's return value: *uint256.Int for VaultMint
	// (tokens minted) and VaultRedeem (reserve paid), *registry.Agent for
	// RegisterAgent, nil otherwise.
	Output any
}

// Engine is the single-threaded deterministic processor. Mutations are
// serialized under mu; reads take the read lock.
type Engine struct {
	mu sync.RWMutex

	sequence int64
	hasher   *StateHasher
	root     StateRoot

	store   *state.MemoryStore
	journal *state.Journal
	events  *event.Buffer

	ledger    *ledger.Ledger
	registry  *registry.Registry
	vault     *vault.Vault
	book      *vault.NativeBook
	validator *ledger.InvariantValidator

	idempotency    *IdempotencyChecker
	checkEvery     int64
	sinceLastCheck int64

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
	closed      bool
}

// ErrClosed is returned by Execute after Close.
var ErrClosed = errors.New("engine closed")

// NewEngine builds an engine over an empty store positioned at genesis.
// Either channel may be nil.
func NewEngine(
	cfg Config,
	persistChan, publishChan chan<- CoreOutput,
	tier2 Tier2Checker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	store := state.NewMemoryStore()
	journal := state.NewJournal(store)
	events := &event.Buffer{}

	l := ledger.New(journal, events, cfg.Ledger)
	book := vault.NewNativeBook(journal, events)

	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	checkEvery := cfg.InvariantCheckInterval
	if checkEvery <= 0 {
		checkEvery = 1
	}

	return &Engine{
		sequence:    1,
		hasher:      NewStateHasher(),
		store:       store,
		journal:     journal,
		events:      events,
		ledger:      l,
		registry:    registry.New(journal, l, events, cfg.Registry),
		vault:       vault.New(journal, l, book, events, cfg.Vault),
		book:        book,
		validator:   ledger.NewInvariantValidator(l),
		idempotency: NewIdempotencyChecker(capacity, tier2, metrics, logger),
		checkEvery:  checkEvery,
		metrics:     metrics,
		logger:      logger,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// Execute applies one command atomically. A command whose RequestID was
// already applied returns Result.Duplicate and changes nothing. On error no
// state or events are kept.
func (e *Engine) Execute(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()
	name := cmd.CommandType().String()
	meta := cmd.Metadata()

	if err := validateMeta(meta); err != nil {
		e.recordRejected(name, err)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	// Step 1: Idempotency check (two-tier)
	if e.idempotency.IsDuplicate(ctx, name, meta.RequestID) {
		if e.metrics != nil {
			e.metrics.CommandsRejected.WithLabelValues(name, "duplicate").Inc()
		}
		return &Result{Duplicate: true}, nil
	}

	// Step 2-3: Dispatch inside a unit of work
	e.journal.Begin()
	output, err := e.dispatch(cmd)
	if err != nil {
		e.journal.Rollback()
		e.events.Reset()
		e.recordRejected(name, err)
		e.logger.Debug().
			Err(err).
			Str("command", name).
			Str("request_id", meta.RequestID.String()).
			Str("sender", meta.Sender.Hex()).
			Msg("command rejected")
		return nil, err
	}

	// Step 4: Post-checks
	if err := e.checkInvariants(); err != nil {
		e.logger.Error().
			Err(err).
			Str("command", name).
			Str("request_id", meta.RequestID.String()).
			Int64("sequence", e.sequence).
			Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: Commit and chain the state hash
	changes := e.journal.Commit()
	emitted := e.events.Drain()

	hashStart := time.Now()
	digest := ComputeStateDigest(changes)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)
	e.root.Apply(changes)
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 6: Envelopes
	envelopes := make([]*event.EventEnvelope, len(emitted))
	for i, evt := range emitted {
		envelopes[i] = &event.EventEnvelope{
			Sequence:  e.sequence,
			RequestID: meta.RequestID,
			Command:   name,
			LogIndex:  i,
			EventType: evt.EventType(),
			Timestamp: meta.Timestamp,
			Payload:   evt,
			StateHash: stateHash,
			PrevHash:  prevHash,
		}
	}

	out := CoreOutput{
		Sequence:  e.sequence,
		RequestID: meta.RequestID,
		Command:   name,
		Sender:    meta.Sender,
		Timestamp: meta.Timestamp,
		Envelopes: envelopes,
		Changes:   changes,
		StateHash: stateHash,
		PrevHash:  prevHash,
		StateRoot: e.root,
	}

	// Step 7: Emit outputs
	e.emit(out)

	// Step 8: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(ctx, meta.RequestID)

	result := &Result{
		Sequence:  e.sequence,
		Events:    emitted,
		StateHash: stateHash,
		Output:    output,
	}
	e.sequence++

	e.recordApplied(name, emitted, time.Since(start))
	return result, nil
}

func validateMeta(m Meta) error {
	if m.RequestID == uuid.Nil {
		return cerrors.New(cerrors.CodeInvalidArgument, "request id is required")
	}
	if m.Timestamp.IsZero() {
		return cerrors.New(cerrors.CodeInvalidArgument, "timestamp is required")
	}
	return nil
}

func amountOf(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// dispatch routes a command to its component operation.
func (e *Engine) dispatch(cmd Command) (any, error) {
	switch c := cmd.(type) {
	case *Transfer:
		return nil, e.ledger.Transfer(c.call(), c.To, amountOf(c.Amount))
	case *Approve:
		return nil, e.ledger.Approve(c.call(), c.Spender, amountOf(c.Amount))
	case *TransferFrom:
		return nil, e.ledger.TransferFrom(c.call(), c.From, c.To, amountOf(c.Amount))
	case *Burn:
		return nil, e.ledger.Burn(c.call(), amountOf(c.Amount))
	case *SetVault:
		return nil, e.ledger.SetVault(c.call(), c.Vault)
	case *SetExcluded:
		return nil, e.ledger.SetExcluded(c.call(), c.Account, c.Excluded)
	case *RegisterAgent:
		agent, err := e.registry.RegisterAgent(c.call(), c.AgentID, c.DisplayName)
		if err != nil {
			return nil, err
		}
		return agent, nil
	case *UpdateAgentWallet:
		return nil, e.registry.UpdateAgentWallet(c.call(), c.AgentID, c.Wallet)
	case *Tip:
		return nil, e.registry.Tip(c.call(), c.AgentID, amountOf(c.Amount))
	case *VaultMint:
		call := c.call()
		call.Value = amountOf(c.Value)
		minted, err := e.vault.Mint(call)
		if err != nil {
			return nil, err
		}
		return minted, nil
	case *VaultRedeem:
		paid, err := e.vault.Redeem(c.call(), amountOf(c.Amount))
		if err != nil {
			return nil, err
		}
		return paid, nil
	default:
		return nil, cerrors.Newf(cerrors.CodeInvalidArgument, "unsupported command %T", cmd)
	}
}

// checkInvariants verifies supply conservation across components.
func (e *Engine) checkInvariants() error {
	e.sinceLastCheck++
	if e.sinceLastCheck < e.checkEvery {
		return nil
	}
	e.sinceLastCheck = 0

	if err := e.validator.Validate(); err != nil {
		return err
	}
	if e.vault.TotalMinted().Gt(e.ledger.TotalMinted()) {
		return fmt.Errorf("vault issued %s but ledger minted %s",
			e.vault.TotalMinted().Dec(), e.ledger.TotalMinted().Dec())
	}
	return nil
}

// emit hands the output to persistence and publishing.
// Persist channel uses BLOCKING send (backpressure); publish channel uses
// NON-BLOCKING send and drops when full.
func (e *Engine) emit(out CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}

	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Close stops accepting commands and closes both output channels once the
// in-flight command has emitted. Reads keep working.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.persistChan != nil {
		close(e.persistChan)
	}
	if e.publishChan != nil {
		close(e.publishChan)
	}
}

func (e *Engine) recordRejected(name string, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.CommandsRejected.WithLabelValues(name, string(cerrors.CodeOf(err))).Inc()
}

func (e *Engine) recordApplied(name string, emitted []event.Event, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.CommandsApplied.WithLabelValues(name).Inc()
	e.metrics.CommandDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	for _, evt := range emitted {
		e.metrics.EventsEmitted.WithLabelValues(evt.EventType().String()).Inc()
	}
	e.metrics.CoreSequence.Set(float64(e.sequence - 1))
	e.updateEconomics()
}

func (e *Engine) updateEconomics() {
	e.metrics.CirculatingSupply.Set(wholeUnits(e.ledger.CirculatingSupply()))
	e.metrics.TotalBurned.Set(wholeUnits(e.ledger.TotalBurned()))
	e.metrics.ReserveBalance.Set(wholeUnits(e.vault.GetNetValue()))
	e.metrics.AgentCount.Set(float64(e.registry.AgentCount()))
}

var unitScale = new(big.Float).SetFloat64(1e18)

// wholeUnits approximates an 18-decimal amount as a float for gauges.
func wholeUnits(v *uint256.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v.ToBig()), unitScale).Float64()
	return f
}

// --- Recovery ---

// Restore replaces the state with persisted entries and repositions the hash
// chain at head. The recomputed state root must match head.StateRoot.
func (e *Engine) Restore(entries map[string][]byte, head Head, recent []uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.journal.Active() {
		return fmt.Errorf("restore during active command")
	}

	e.store.Restore(entries)
	root := ComputeStateRoot(e.store)
	if root != head.StateRoot {
		e.store.Restore(nil)
		return fmt.Errorf("state root mismatch at sequence %d: computed %x, persisted %x",
			head.Sequence, root[:], head.StateRoot[:])
	}
	if err := e.validator.Validate(); err != nil {
		e.store.Restore(nil)
		return fmt.Errorf("restored state violates invariants: %w", err)
	}

	e.root = root
	e.hasher.SetPrevHash(head.StateHash)
	e.sequence = head.Sequence + 1
	e.idempotency.Warm(recent)

	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(head.Sequence))
		e.updateEconomics()
	}
	e.logger.Info().
		Int64("sequence", head.Sequence).
		Int("state_rows", len(entries)).
		Msg("state restored")
	return nil
}

// Head returns the last applied command's position.
func (e *Engine) Head() Head {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Head{
		Sequence:  e.sequence - 1,
		StateHash: e.hasher.GetPrevHash(),
		StateRoot: e.root,
	}
}

// Snapshot returns a consistent copy of the state together with its head.
func (e *Engine) Snapshot() (map[string][]byte, Head) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot(), Head{
		Sequence:  e.sequence - 1,
		StateHash: e.hasher.GetPrevHash(),
		StateRoot: e.root,
	}
}

// RecentRequestIDs returns the tier-1 cache contents, most recent first.
func (e *Engine) RecentRequestIDs() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idempotency.RecentKeys()
}

// --- Reads ---

// TokenInfo is the ledger's metadata and supply counters.
type TokenInfo struct {
	Name              string         `json:"name"`
	Symbol            string         `json:"symbol"`
	Decimals          uint8          `json:"decimals"`
	Owner             common.Address `json:"owner"`
	TeamWallet        common.Address `json:"team_wallet"`
	Vault             common.Address `json:"vault"`
	MaxSupply         *uint256.Int   `json:"max_supply"`
	TotalMinted       *uint256.Int   `json:"total_minted"`
	TotalBurned       *uint256.Int   `json:"total_burned"`
	CirculatingSupply *uint256.Int   `json:"circulating_supply"`
	TeamTaxRate       uint64         `json:"team_tax_rate"`
	BurnTaxRate       uint64         `json:"burn_tax_rate"`
}

func (e *Engine) TokenInfo() TokenInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return TokenInfo{
		Name:              e.ledger.Name(),
		Symbol:            e.ledger.Symbol(),
		Decimals:          e.ledger.Decimals(),
		Owner:             e.ledger.Owner(),
		TeamWallet:        e.ledger.TeamWallet(),
		Vault:             e.ledger.Vault(),
		MaxSupply:         e.ledger.MaxSupply(),
		TotalMinted:       e.ledger.TotalMinted(),
		TotalBurned:       e.ledger.TotalBurned(),
		CirculatingSupply: e.ledger.CirculatingSupply(),
		TeamTaxRate:       ledger.TeamTaxRate,
		BurnTaxRate:       ledger.BurnTaxRate,
	}
}

func (e *Engine) BalanceOf(account common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(account)
}

func (e *Engine) Allowance(owner, spender common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Allowance(owner, spender)
}

func (e *Engine) IsExcluded(account common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.IsExcluded(account)
}

func (e *Engine) GetAgent(externalID string) (*registry.Agent, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.GetAgent(externalID)
}

func (e *Engine) GetLeaderboard(offset, limit uint64) ([]*registry.Agent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.GetLeaderboard(offset, limit)
}

func (e *Engine) GetAgentWallet(externalID string) (common.Address, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.GetAgentWallet(externalID)
}

func (e *Engine) GetAgentBalance(externalID string) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.GetAgentBalance(externalID)
}

func (e *Engine) AgentCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.AgentCount()
}

func (e *Engine) WalletToAgent(account common.Address) (common.Hash, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.WalletToAgent(account)
}

func (e *Engine) GetVaultInfo() vault.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.GetVaultInfo()
}

func (e *Engine) NAVPerToken() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.NAVPerToken()
}

func (e *Engine) CalculateMintOutput(reserveIn *uint256.Int) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.CalculateMintOutput(amountOf(reserveIn))
}

func (e *Engine) CalculateRedeemOutput(tokenIn *uint256.Int) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.CalculateRedeemOutput(amountOf(tokenIn))
}

func (e *Engine) NativeBalanceOf(account common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.NativeBalanceOf(account)
}
