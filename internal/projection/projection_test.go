package projection_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"Clawboard/internal/core"
	"Clawboard/internal/event"
	"Clawboard/internal/ingestion"
	"Clawboard/internal/ledger"
	"Clawboard/internal/persistence"
	"Clawboard/internal/projection"
	"Clawboard/internal/registry"
	"Clawboard/internal/testutil"
	"Clawboard/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	owner     = testutil.Addr(0xa1)
	vaultAddr = testutil.Addr(0xa3)
	regAddr   = testutil.Addr(0xa4)
	alice     = testutil.Addr(0xb1)
	bob       = testutil.Addr(0xb2)
)

func TestTipProjector_IgnoresOtherEvents(t *testing.T) {
	// A nil DB proves non-tip events never reach the database.
	p := projection.NewTipProjector(nil, zerolog.Nop())
	require.Equal(t, "projection", p.Backend())

	err := p.Publish(context.Background(), ingestion.PublishableEvent{
		Sequence:  3,
		EventType: event.EventTypeAgentRegistered.String(),
		Payload:   &event.AgentRegistered{AgentID: "agent-1", Wallet: bob},
	})
	require.NoError(t, err)
}

func TestTipProjector_PostgresRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	persist := make(chan core.CoreOutput, 64)
	publish := make(chan core.CoreOutput, 64)
	engine := core.NewEngine(core.Config{
		Ledger:   ledger.Config{Owner: owner, TeamWallet: testutil.Addr(0xa2)},
		Registry: registry.Config{Address: regAddr},
		Vault:    vault.Config{Address: vaultAddr},
	}, persist, publish, nil, nil, zerolog.Nop())

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	meta := func(sender common.Address) core.Meta {
		ts = ts.Add(time.Second)
		return core.Meta{RequestID: uuid.New(), Sender: sender, Timestamp: ts}
	}
	for _, c := range []core.Command{
		&core.SetVault{Meta: meta(owner), Vault: vaultAddr},
		&core.VaultMint{Meta: meta(alice), Value: testutil.Tokens(1)},
		&core.RegisterAgent{Meta: meta(bob), AgentID: "agent-1"},
		&core.Approve{Meta: meta(alice), Spender: regAddr, Amount: testutil.Tokens(1000)},
		&core.Tip{Meta: meta(alice), AgentID: "agent-1", Amount: testutil.Tokens(100)},
		&core.Tip{Meta: meta(alice), AgentID: "agent-1", Amount: testutil.Tokens(5)},
	} {
		_, err := engine.Execute(ctx, c)
		require.NoError(t, err)
	}
	engine.Close()

	require.NoError(t, persistence.NewWorker(db, persist, 10, time.Millisecond, nil, zerolog.Nop()).Run(ctx))

	projector := projection.NewTipProjector(db, zerolog.Nop())
	require.NoError(t, ingestion.NewOutboundPublisher(publish, nil, zerolog.Nop(), projector).Run(ctx))

	tips, err := projection.QueryByAgent(ctx, db, "agent-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, tips, 2)
	require.Equal(t, testutil.Tokens(5).Dec(), tips[0].Amount)
	require.Equal(t, strings.ToLower(alice.Hex()), tips[0].Tipper)
	require.Greater(t, tips[0].Sequence, tips[1].Sequence)

	older, err := projection.QueryByAgent(ctx, db, "agent-1", tips[0].Sequence, 10)
	require.NoError(t, err)
	require.Len(t, older, 1)

	wm, err := projector.Watermark(ctx)
	require.NoError(t, err)
	require.Equal(t, tips[0].Sequence, wm)

	stale, err := projector.Stale(ctx)
	require.NoError(t, err)
	require.False(t, stale)

	// Rebuilding from the event log yields the same rows.
	n, err := projector.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	rebuilt, err := projection.QueryByAgent(ctx, db, "agent-1", 0, 10)
	require.NoError(t, err)
	require.Equal(t, tips, rebuilt)
}
