package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"Clawboard/internal/core"
	"Clawboard/internal/event"
	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	failN   int
	calls   int
	batches []*Batch
}

func (f *fakeWriter) WriteBatch(_ context.Context, b *Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("connection refused")
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeWriter) sequences() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, b := range f.batches {
		for _, c := range b.Commands {
			out = append(out, c.Sequence)
		}
	}
	return out
}

func output(seq int64, changes ...state.Change) core.CoreOutput {
	return core.CoreOutput{
		Sequence:  seq,
		RequestID: uuid.New(),
		Command:   "Transfer",
		Sender:    common.HexToAddress("0xb1"),
		Timestamp: time.Unix(1_700_000_000+seq, 0).UTC(),
		Changes:   changes,
	}
}

func TestNewBatch_CollapsesStateChanges(t *testing.T) {
	k1, k2 := []byte{0x10, 1}, []byte{0x10, 2}

	b, err := NewBatch([]core.CoreOutput{
		output(1, state.Change{Key: k1, Value: []byte{1}}, state.Change{Key: k2, Value: []byte{9}}),
		output(2, state.Change{Key: k1, Value: []byte{2}, Prev: []byte{1}}),
		output(3, state.Change{Key: k2, Deleted: true, Prev: []byte{9}}),
	})
	require.NoError(t, err)

	require.Len(t, b.Commands, 3)
	require.Equal(t, int64(3), b.LastSequence())
	require.Equal(t, []StateRow{
		{Key: k1, Value: []byte{2}, UpdatedSeq: 2},
		{Key: k2, Value: nil, UpdatedSeq: 3},
	}, b.State)
}

func TestNewBatch_EncodesEventPayloads(t *testing.T) {
	out := output(7)
	out.Envelopes = []*event.EventEnvelope{{
		Sequence:  7,
		LogIndex:  0,
		EventType: event.EventTypeTipRecorded,
		Timestamp: out.Timestamp,
		Payload: &event.TipRecorded{
			AgentID: "agent-1",
			Tipper:  common.HexToAddress("0xb1"),
			Amount:  uint256.NewInt(100),
		},
	}}

	b, err := NewBatch([]core.CoreOutput{out})
	require.NoError(t, err)
	require.Len(t, b.Events, 1)
	require.Equal(t, "TipRecorded", b.Events[0].EventType)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b.Events[0].Payload, &decoded))
	require.Equal(t, "agent-1", decoded["agent_id"])
}

func TestWorker_FlushesFullBatches(t *testing.T) {
	in := make(chan core.CoreOutput, 8)
	w := &fakeWriter{}
	worker := NewWorkerWithWriter(w, in, 2, time.Hour, nil, zerolog.Nop())

	for seq := int64(1); seq <= 4; seq++ {
		in <- output(seq)
	}
	close(in)

	require.NoError(t, worker.Run(context.Background()))
	require.Equal(t, []int64{1, 2, 3, 4}, w.sequences())
	require.Len(t, w.batches, 2)
}

func TestWorker_FlushesOnTimeout(t *testing.T) {
	in := make(chan core.CoreOutput, 8)
	w := &fakeWriter{}
	worker := NewWorkerWithWriter(w, in, 100, 5*time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	in <- output(1)
	require.Eventually(t, func() bool {
		return len(w.sequences()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestWorker_RetriesUntilWritten(t *testing.T) {
	in := make(chan core.CoreOutput, 1)
	w := &fakeWriter{failN: 2}
	worker := NewWorkerWithWriter(w, in, 1, time.Hour, nil, zerolog.Nop())
	worker.maxBackoff = time.Millisecond

	in <- output(1)
	close(in)

	require.NoError(t, worker.Run(context.Background()))
	require.Equal(t, 3, w.calls)
	require.Equal(t, []int64{1}, w.sequences())
}

func TestSnapshotData_Verify(t *testing.T) {
	store := state.NewMemoryStore()
	store.Put([]byte{0x10, 1}, []byte{5})
	store.Put([]byte{0x30}, []byte{7})
	root := core.ComputeStateRoot(store)

	snap := &SnapshotData{
		Sequence:  3,
		StateRoot: root[:],
		Entries: []SnapshotEntry{
			{Key: []byte{0x10, 1}, Value: []byte{5}},
			{Key: []byte{0x30}, Value: []byte{7}},
		},
	}
	require.NoError(t, snap.Verify())

	snap.Entries[1].Value = []byte{8}
	require.Error(t, snap.Verify())
}

func TestExtractVersion(t *testing.T) {
	require.Equal(t, "000001", extractVersion("000001_command_log.up.sql"))
	require.Equal(t, "000002", extractVersion("000002_state.down.sql"))
}
