package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"Clawboard/internal/core"
	"Clawboard/internal/observability"
	"Clawboard/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Loader reads the persisted state back for recovery. clawboard_state and
// the command log are written in the same transaction, so the state rows
// always correspond to the highest persisted sequence.
type Loader struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewLoader(db *sql.DB, metrics *observability.Metrics, logger zerolog.Logger) *Loader {
	return &Loader{db: db, metrics: metrics, logger: logger}
}

// Recover loads state and head into the engine and warms its dedup cache
// with the last recentLimit request ids.
func (l *Loader) Recover(ctx context.Context, engine *core.Engine, recentLimit int) (core.Head, error) {
	start := time.Now()

	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return core.Head{}, fmt.Errorf("begin recovery tx: %w", err)
	}
	defer tx.Rollback()

	head, err := loadHead(ctx, tx)
	if err != nil {
		return core.Head{}, err
	}
	entries, err := loadState(ctx, tx)
	if err != nil {
		return core.Head{}, err
	}
	recent, err := loadRecentRequestIDs(ctx, tx, recentLimit)
	if err != nil {
		return core.Head{}, err
	}

	if err := engine.Restore(entries, head, recent); err != nil {
		return core.Head{}, fmt.Errorf("restore engine: %w", err)
	}

	if l.metrics != nil {
		l.metrics.RecoveryStateRows.Set(float64(len(entries)))
		l.metrics.RecoveryDuration.Set(time.Since(start).Seconds())
		l.metrics.PersistLastSequence.Set(float64(head.Sequence))
	}
	l.logger.Info().
		Int64("sequence", head.Sequence).
		Int("state_rows", len(entries)).
		Int("request_ids", len(recent)).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return head, nil
}

// loadHead returns the last persisted command, or genesis for an empty log.
func loadHead(ctx context.Context, tx *sql.Tx) (core.Head, error) {
	var seq int64
	var stateHash, stateRoot []byte
	err := tx.QueryRowContext(ctx, `
		SELECT sequence, state_hash, state_root FROM clawboard_commands
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&seq, &stateHash, &stateRoot)
	if err == sql.ErrNoRows {
		return core.Head{StateHash: core.GenesisHash()}, nil
	}
	if err != nil {
		return core.Head{}, fmt.Errorf("load head: %w", err)
	}
	if len(stateHash) != 32 || len(stateRoot) != 32 {
		return core.Head{}, fmt.Errorf("corrupt head at sequence %d", seq)
	}

	head := core.Head{Sequence: seq}
	copy(head.StateHash[:], stateHash)
	copy(head.StateRoot[:], stateRoot)
	return head, nil
}

func loadState(ctx context.Context, tx *sql.Tx) (map[string][]byte, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM clawboard_state`)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		entries[string(key)] = value
	}
	return entries, rows.Err()
}

// loadRecentRequestIDs returns up to limit ids, oldest first.
func loadRecentRequestIDs(ctx context.Context, tx *sql.Tx, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT request_id FROM (
			SELECT request_id, sequence FROM clawboard_commands
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load request ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse request id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SnapshotManager writes point-in-time checkpoints of the full state for
// audit and offline verification.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the stored form of one checkpoint.
type SnapshotData struct {
	Sequence  int64           `json:"sequence"`
	StateHash []byte          `json:"state_hash"`
	StateRoot []byte          `json:"state_root"`
	Entries   []SnapshotEntry `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
}

// SnapshotEntry holds one key; raw bytes are base64 in JSON.
type SnapshotEntry struct {
	Key   []byte `json:"k"`
	Value []byte `json:"v"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists the engine's current state.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, engine *core.Engine, now time.Time) (int64, error) {
	entries, head := engine.Snapshot()
	snap := SnapshotData{
		Sequence:  head.Sequence,
		StateHash: clone32(head.StateHash),
		StateRoot: clone32(head.StateRoot),
		Entries:   make([]SnapshotEntry, 0, len(entries)),
		CreatedAt: now,
	}
	for k, v := range entries {
		snap.Entries = append(snap.Entries, SnapshotEntry{Key: []byte(k), Value: v})
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		return bytes.Compare(snap.Entries[i].Key, snap.Entries[j].Key) < 0
	})
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO clawboard_snapshots (sequence, state_hash, state_root, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, snap.Sequence, snap.StateHash, snap.StateRoot, data, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return head.Sequence, nil
}

// LoadLatestSnapshot loads the most recent checkpoint, nil if none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM clawboard_snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Map returns the entries keyed by raw key.
func (snap *SnapshotData) Map() map[string][]byte {
	out := make(map[string][]byte, len(snap.Entries))
	for _, e := range snap.Entries {
		out[string(e.Key)] = e.Value
	}
	return out
}

// Verify recomputes the snapshot's state root.
func (snap *SnapshotData) Verify() error {
	store := state.NewMemoryStore()
	store.Restore(snap.Map())
	root := core.ComputeStateRoot(store)
	if !bytes.Equal(root[:], snap.StateRoot) {
		return fmt.Errorf("snapshot %d: state root mismatch", snap.Sequence)
	}
	return nil
}
