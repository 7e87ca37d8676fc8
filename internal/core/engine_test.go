package core_test

import (
	"context"
	"testing"
	"time"

	"Clawboard/internal/core"
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/event"
	"Clawboard/internal/ledger"
	fpmath "Clawboard/internal/math"
	"Clawboard/internal/registry"
	"Clawboard/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	owner     = common.HexToAddress("0xa1")
	team      = common.HexToAddress("0xa2")
	vaultAddr = common.HexToAddress("0xa3")
	regAddr   = common.HexToAddress("0xa4")
	alice     = common.HexToAddress("0xb1")
	bob       = common.HexToAddress("0xb2")
)

var baseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// --- Test helpers ---

type harness struct {
	engine  *core.Engine
	persist chan core.CoreOutput
	publish chan core.CoreOutput
	tick    int
}

func testConfig() core.Config {
	return core.Config{
		Ledger:      ledger.Config{Owner: owner, TeamWallet: team},
		Registry:    registry.Config{Address: regAddr},
		Vault:       vault.Config{Address: vaultAddr},
		LRUCapacity: 128,
	}
}

// newHarness creates an engine with buffered channels and the vault wired.
func newHarness(t *testing.T, tier2 core.Tier2Checker) *harness {
	t.Helper()
	h := &harness{
		persist: make(chan core.CoreOutput, 1024),
		publish: make(chan core.CoreOutput, 1024),
	}
	h.engine = core.NewEngine(testConfig(), h.persist, h.publish, tier2, nil, zerolog.Nop())
	h.mustExec(t, &core.SetVault{Meta: h.meta(owner), Vault: vaultAddr})
	return h
}

func (h *harness) meta(sender common.Address) core.Meta {
	h.tick++
	return core.Meta{
		RequestID: uuid.New(),
		Sender:    sender,
		Timestamp: baseTime.Add(time.Duration(h.tick) * time.Second),
	}
}

func (h *harness) mustExec(t *testing.T, cmd core.Command) *core.Result {
	t.Helper()
	res, err := h.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	return res
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

func eventTypes(events []event.Event) []event.EventType {
	types := make([]event.EventType, len(events))
	for i, e := range events {
		types[i] = e.EventType()
	}
	return types
}

// fundAlice deposits one reserve unit for alice (1000 tokens at bootstrap).
func (h *harness) fundAlice(t *testing.T) {
	t.Helper()
	h.mustExec(t, &core.VaultMint{Meta: h.meta(alice), Value: fpmath.Units(1)})
}

type fakeTier2 struct {
	seen map[uuid.UUID]bool
}

func (f *fakeTier2) IsDuplicate(_ context.Context, id uuid.UUID) (bool, error) {
	return f.seen[id], nil
}

// --- Tests ---

func TestEngine_VaultMintBootstrap(t *testing.T) {
	h := newHarness(t, nil)

	res := h.mustExec(t, &core.VaultMint{Meta: h.meta(alice), Value: fpmath.Units(1)})

	require.Equal(t, int64(2), res.Sequence)
	require.Equal(t, fpmath.Units(1000), res.Output)
	require.Equal(t, fpmath.Units(1000), h.engine.BalanceOf(alice))
	require.Equal(t, []event.EventType{
		event.EventTypeMinted,
		event.EventTypeTransfer,
		event.EventTypeVaultMinted,
	}, eventTypes(res.Events))

	info := h.engine.GetVaultInfo()
	require.Equal(t, fpmath.Units(1), info.ReserveBalance)
	require.Equal(t, fpmath.Units(1000), info.CirculatingSupply)
}

func TestEngine_TipScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.fundAlice(t)

	res := h.mustExec(t, &core.RegisterAgent{Meta: h.meta(bob), AgentID: "agent-1", DisplayName: "Bob's agent"})
	agent, ok := res.Output.(*registry.Agent)
	require.True(t, ok)
	require.Equal(t, bob, agent.Wallet)

	h.mustExec(t, &core.Approve{Meta: h.meta(alice), Spender: regAddr, Amount: fpmath.Units(100)})
	tip := h.mustExec(t, &core.Tip{Meta: h.meta(alice), AgentID: "agent-1", Amount: fpmath.Units(100)})

	// 100 tokens less 4.2% team and 6.9% burn.
	net := new(uint256.Int).Div(fpmath.Units(889), uint256.NewInt(10))
	require.Equal(t, net, h.engine.BalanceOf(bob))
	require.Equal(t, fpmath.Units(900), h.engine.BalanceOf(alice))
	require.Equal(t, new(uint256.Int).Div(fpmath.Units(42), uint256.NewInt(10)), h.engine.BalanceOf(team))
	require.Equal(t, new(uint256.Int).Div(fpmath.Units(69), uint256.NewInt(10)), h.engine.TokenInfo().TotalBurned)
	require.True(t, h.engine.Allowance(alice, regAddr).IsZero())
	require.Contains(t, eventTypes(tip.Events), event.EventTypeTipRecorded)

	got, found, err := h.engine.GetAgent("agent-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), got.TipCount)
}

func TestEngine_RejectedCommandLeavesNoTrace(t *testing.T) {
	h := newHarness(t, nil)
	h.fundAlice(t)
	h.mustExec(t, &core.RegisterAgent{Meta: h.meta(bob), AgentID: "agent-1"})
	drain(h.persist)
	before := h.engine.Head()

	// No approval for the registry.
	_, err := h.engine.Execute(context.Background(), &core.Tip{Meta: h.meta(alice), AgentID: "agent-1", Amount: fpmath.Units(10)})
	require.ErrorIs(t, err, cerrors.ErrInsufficientAllowance)

	require.Equal(t, before, h.engine.Head())
	require.Empty(t, drain(h.persist))
	require.Equal(t, fpmath.Units(1000), h.engine.BalanceOf(alice))
	require.True(t, h.engine.BalanceOf(bob).IsZero())
	agent, _, err := h.engine.GetAgent("agent-1")
	require.NoError(t, err)
	require.Zero(t, agent.TipCount)
}

func TestEngine_DuplicateRegistration(t *testing.T) {
	h := newHarness(t, nil)
	h.mustExec(t, &core.RegisterAgent{Meta: h.meta(bob), AgentID: "agent-1", DisplayName: "first"})

	_, err := h.engine.Execute(context.Background(), &core.RegisterAgent{Meta: h.meta(alice), AgentID: "agent-1", DisplayName: "second"})
	require.ErrorIs(t, err, cerrors.ErrAlreadyRegistered)
	require.Equal(t, cerrors.KindState, cerrors.KindOf(err))

	agent, _, err := h.engine.GetAgent("agent-1")
	require.NoError(t, err)
	require.Equal(t, "first", agent.DisplayName)
	require.Equal(t, bob, agent.Wallet)
}

func TestEngine_DuplicateRequestIDIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.fundAlice(t)
	drain(h.persist)

	cmd := &core.Transfer{Meta: h.meta(alice), To: bob, Amount: fpmath.Units(10)}
	first := h.mustExec(t, cmd)

	second, err := h.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Empty(t, second.Events)

	require.Equal(t, first.Sequence, h.engine.Head().Sequence)
	require.Equal(t, fpmath.Units(990), h.engine.BalanceOf(alice))
	require.Len(t, drain(h.persist), 1)
}

func TestEngine_Tier2Duplicate(t *testing.T) {
	replayed := uuid.New()
	h := newHarness(t, &fakeTier2{seen: map[uuid.UUID]bool{replayed: true}})
	h.fundAlice(t)

	meta := h.meta(alice)
	meta.RequestID = replayed
	res, err := h.engine.Execute(context.Background(), &core.Transfer{Meta: meta, To: bob, Amount: fpmath.Units(1)})
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.True(t, h.engine.BalanceOf(bob).IsZero())
}

func TestEngine_RejectsMissingMetadata(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Execute(context.Background(), &core.Burn{
		Meta:   core.Meta{Sender: alice, Timestamp: baseTime},
		Amount: uint256.NewInt(1),
	})
	require.ErrorIs(t, err, cerrors.ErrInvalidArgument)

	_, err = h.engine.Execute(context.Background(), &core.Burn{
		Meta:   core.Meta{RequestID: uuid.New(), Sender: alice},
		Amount: uint256.NewInt(1),
	})
	require.ErrorIs(t, err, cerrors.ErrInvalidArgument)
}

func TestEngine_HashChain(t *testing.T) {
	h := newHarness(t, nil)
	h.fundAlice(t)
	h.mustExec(t, &core.Transfer{Meta: h.meta(alice), To: bob, Amount: fpmath.Units(5)})

	outs := drain(h.persist)
	require.Len(t, outs, 3)

	require.Equal(t, core.GenesisHash(), outs[0].PrevHash)
	for i := 1; i < len(outs); i++ {
		require.Equal(t, outs[i-1].StateHash, outs[i].PrevHash)
		require.Equal(t, outs[i-1].Sequence+1, outs[i].Sequence)
		require.NotEqual(t, outs[i].PrevHash, outs[i].StateHash)
	}

	last := outs[len(outs)-1]
	for i, env := range last.Envelopes {
		require.Equal(t, last.Sequence, env.Sequence)
		require.Equal(t, i, env.LogIndex)
		require.Equal(t, last.StateHash, env.StateHash)
		require.Equal(t, "Transfer", env.Command)
	}

	entries, head := h.engine.Snapshot()
	require.Equal(t, last.StateRoot, head.StateRoot)
	require.NotEmpty(t, entries)
}

func TestEngine_SameCommandsSameHashes(t *testing.T) {
	run := func() core.Head {
		// Fixed request ids so the two runs see identical inputs.
		h := &harness{engine: core.NewEngine(testConfig(), nil, nil, nil, nil, zerolog.Nop())}
		cmds := []core.Command{
			&core.SetVault{Meta: core.Meta{RequestID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Sender: owner, Timestamp: baseTime}, Vault: vaultAddr},
			&core.VaultMint{Meta: core.Meta{RequestID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Sender: alice, Timestamp: baseTime}, Value: fpmath.Units(3)},
			&core.Transfer{Meta: core.Meta{RequestID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Sender: alice, Timestamp: baseTime}, To: bob, Amount: fpmath.Units(7)},
		}
		for _, c := range cmds {
			h.mustExec(t, c)
		}
		return h.engine.Head()
	}

	require.Equal(t, run(), run())
}

func TestEngine_RestoreVerifiesStateRoot(t *testing.T) {
	src := newHarness(t, nil)
	src.fundAlice(t)
	src.mustExec(t, &core.RegisterAgent{Meta: src.meta(bob), AgentID: "agent-1"})

	entries, head := src.engine.Snapshot()

	dst := core.NewEngine(testConfig(), nil, nil, nil, nil, zerolog.Nop())
	require.NoError(t, dst.Restore(entries, head, src.engine.RecentRequestIDs()))
	require.Equal(t, head, dst.Head())
	require.Equal(t, src.engine.BalanceOf(alice), dst.BalanceOf(alice))
	require.Equal(t, uint64(1), dst.AgentCount())

	// Both engines continue the same chain.
	next := &core.Transfer{Meta: src.meta(alice), To: bob, Amount: fpmath.Units(1)}
	a, err := src.engine.Execute(context.Background(), next)
	require.NoError(t, err)
	b, err := dst.Execute(context.Background(), next)
	require.NoError(t, err)
	require.Equal(t, a.StateHash, b.StateHash)
	require.Equal(t, a.Sequence, b.Sequence)
}

func TestEngine_RestoreRejectsTamperedState(t *testing.T) {
	src := newHarness(t, nil)
	src.fundAlice(t)
	entries, head := src.engine.Snapshot()

	for k := range entries {
		entries[k] = append(entries[k], 0xff)
		break
	}

	dst := core.NewEngine(testConfig(), nil, nil, nil, nil, zerolog.Nop())
	require.Error(t, dst.Restore(entries, head, nil))
	require.Equal(t, int64(0), dst.Head().Sequence)
}

func TestEngine_RestoredRequestIDsStayDuplicates(t *testing.T) {
	src := newHarness(t, nil)
	cmd := &core.VaultMint{Meta: src.meta(alice), Value: fpmath.Units(1)}
	src.mustExec(t, cmd)
	entries, head := src.engine.Snapshot()

	dst := core.NewEngine(testConfig(), nil, nil, nil, nil, zerolog.Nop())
	require.NoError(t, dst.Restore(entries, head, src.engine.RecentRequestIDs()))

	res, err := dst.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, res.Duplicate)
}

func TestEngine_PublishDropsWhenFull(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	publish := make(chan core.CoreOutput) // never read
	e := core.NewEngine(testConfig(), persist, publish, nil, nil, zerolog.Nop())

	_, err := e.Execute(context.Background(), &core.SetVault{
		Meta:  core.Meta{RequestID: uuid.New(), Sender: owner, Timestamp: baseTime},
		Vault: vaultAddr,
	})
	require.NoError(t, err)
	require.Len(t, persist, 1)
}

func TestEngine_RedeemCreditsNativeBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.fundAlice(t)

	h.mustExec(t, &core.Approve{Meta: h.meta(alice), Spender: vaultAddr, Amount: fpmath.Units(500)})
	res := h.mustExec(t, &core.VaultRedeem{Meta: h.meta(alice), Amount: fpmath.Units(500)})

	// Half the supply at 1/1000 reserve per token, less 11.1%.
	paid := new(uint256.Int).Div(fpmath.Units(4445), uint256.NewInt(10000))
	require.Equal(t, paid, res.Output)
	require.Equal(t, paid, h.engine.NativeBalanceOf(alice))
	require.Equal(t, fpmath.Units(500), h.engine.BalanceOf(alice))
	require.Equal(t, fpmath.Units(500), h.engine.GetVaultInfo().TotalRedeemed)
}

func TestEngine_MintRequiresVault(t *testing.T) {
	e := core.NewEngine(testConfig(), nil, nil, nil, nil, zerolog.Nop())

	_, err := e.Execute(context.Background(), &core.VaultMint{
		Meta:  core.Meta{RequestID: uuid.New(), Sender: alice, Timestamp: baseTime},
		Value: fpmath.Units(1),
	})
	require.ErrorIs(t, err, cerrors.ErrUnauthorized)
	require.Equal(t, int64(0), e.Head().Sequence)
	require.True(t, e.GetVaultInfo().ReserveBalance.IsZero())
}

func TestEngine_CloseStopsIntake(t *testing.T) {
	h := newHarness(t, nil)
	require.Len(t, drain(h.persist), 1)

	h.engine.Close()
	h.engine.Close()

	_, ok := <-h.persist
	require.False(t, ok, "persist channel closed")
	_, ok = <-h.publish
	require.False(t, ok, "publish channel closed")

	_, err := h.engine.Execute(context.Background(), &core.Burn{Meta: h.meta(alice), Amount: fpmath.Units(1)})
	require.ErrorIs(t, err, core.ErrClosed)
	require.Equal(t, int64(1), h.engine.Head().Sequence)
}
