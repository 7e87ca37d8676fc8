package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Clawboard/internal/core"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// maxRowsPerInsert keeps multi-row INSERTs under Postgres' parameter limit.
const maxRowsPerInsert = 1000

// CommandRow represents a row in clawboard_commands
type CommandRow struct {
	Sequence  int64
	RequestID uuid.UUID
	Command   string
	Sender    []byte
	Timestamp time.Time
	StateHash []byte
	PrevHash  []byte
	StateRoot []byte
}

// EventRow represents a row in clawboard_events
type EventRow struct {
	Sequence  int64
	LogIndex  int
	EventType string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// StateRow is the final value of one key after a batch; Value is nil when
// the key was deleted.
type StateRow struct {
	Key        []byte
	Value      []byte
	UpdatedSeq int64
}

// Batch is the set of rows produced by consecutive engine outputs.
type Batch struct {
	Commands []CommandRow
	Events   []EventRow
	State    []StateRow
}

// NewBatch converts outputs into rows. State changes are collapsed per key
// so each key appears at most once, carrying its latest value.
func NewBatch(outputs []core.CoreOutput) (*Batch, error) {
	b := &Batch{}
	latest := make(map[string]int)

	for _, out := range outputs {
		b.Commands = append(b.Commands, CommandRow{
			Sequence:  out.Sequence,
			RequestID: out.RequestID,
			Command:   out.Command,
			Sender:    out.Sender.Bytes(),
			Timestamp: out.Timestamp,
			StateHash: clone32(out.StateHash),
			PrevHash:  clone32(out.PrevHash),
			StateRoot: clone32(out.StateRoot),
		})

		for _, env := range out.Envelopes {
			payload, err := json.Marshal(env.Payload)
			if err != nil {
				return nil, fmt.Errorf("marshal %s payload at sequence %d: %w", env.EventType, env.Sequence, err)
			}
			b.Events = append(b.Events, EventRow{
				Sequence:  env.Sequence,
				LogIndex:  env.LogIndex,
				EventType: env.EventType.String(),
				Payload:   payload,
				Timestamp: env.Timestamp,
			})
		}

		for _, c := range out.Changes {
			row := StateRow{Key: c.Key, UpdatedSeq: out.Sequence}
			if !c.Deleted {
				row.Value = c.Value
			}
			if i, ok := latest[string(c.Key)]; ok {
				b.State[i] = row
				continue
			}
			latest[string(c.Key)] = len(b.State)
			b.State = append(b.State, row)
		}
	}
	return b, nil
}

// LastSequence returns the highest command sequence in the batch.
func (b *Batch) LastSequence() int64 {
	if len(b.Commands) == 0 {
		return 0
	}
	return b.Commands[len(b.Commands)-1].Sequence
}

func clone32(h [32]byte) []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

// Writer writes command log, events and state rows to Postgres using
// multi-row INSERTs inside the caller's transaction.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// WriteBatch writes the whole batch atomically.
func (w *Writer) WriteBatch(ctx context.Context, b *Batch) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := w.WriteCommands(ctx, tx, b.Commands); err != nil {
		return fmt.Errorf("write commands: %w", err)
	}
	if err := w.WriteEvents(ctx, tx, b.Events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := w.WriteState(ctx, tx, b.State); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WriteCommands inserts command rows; already-written sequences are skipped.
func (w *Writer) WriteCommands(ctx context.Context, tx *sql.Tx, rows []CommandRow) error {
	args := make([][]interface{}, len(rows))
	for i, r := range rows {
		args[i] = []interface{}{
			r.Sequence, r.RequestID.String(), r.Command, r.Sender,
			r.Timestamp, r.StateHash, r.PrevHash, r.StateRoot,
		}
	}
	return insertRows(ctx, tx,
		`INSERT INTO clawboard_commands
		(sequence, request_id, command, sender, ts, state_hash, prev_hash, state_root)
		VALUES `,
		" ON CONFLICT (sequence) DO NOTHING",
		args,
	)
}

// WriteEvents inserts event rows; already-written events are skipped.
func (w *Writer) WriteEvents(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	args := make([][]interface{}, len(rows))
	for i, r := range rows {
		args[i] = []interface{}{r.Sequence, r.LogIndex, r.EventType, r.Payload, r.Timestamp}
	}
	return insertRows(ctx, tx,
		`INSERT INTO clawboard_events
		(sequence, log_index, event_type, payload, ts)
		VALUES `,
		" ON CONFLICT (sequence, log_index) DO NOTHING",
		args,
	)
}

// WriteState upserts live keys and deletes removed ones. Rows older than the
// stored version are ignored so replays of a batch are harmless.
func (w *Writer) WriteState(ctx context.Context, tx *sql.Tx, rows []StateRow) error {
	var upserts [][]interface{}
	var deleted [][]byte
	var deletedSeq int64
	for _, r := range rows {
		if r.Value == nil {
			deleted = append(deleted, r.Key)
			if r.UpdatedSeq > deletedSeq {
				deletedSeq = r.UpdatedSeq
			}
			continue
		}
		upserts = append(upserts, []interface{}{r.Key, r.Value, r.UpdatedSeq})
	}

	if err := insertRows(ctx, tx,
		`INSERT INTO clawboard_state (key, value, updated_seq) VALUES `,
		` ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_seq = EXCLUDED.updated_seq
		WHERE clawboard_state.updated_seq <= EXCLUDED.updated_seq`,
		upserts,
	); err != nil {
		return err
	}

	if len(deleted) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM clawboard_state WHERE key = ANY($1) AND updated_seq <= $2`,
			pq.ByteaArray(deleted), deletedSeq,
		); err != nil {
			return err
		}
	}
	return nil
}

// insertRows builds multi-row INSERTs of at most maxRowsPerInsert rows.
func insertRows(ctx context.Context, tx *sql.Tx, prefix, suffix string, rows [][]interface{}) error {
	for start := 0; start < len(rows); start += maxRowsPerInsert {
		end := start + maxRowsPerInsert
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(chunk[0]))
		for _, row := range chunk {
			placeholders := make([]string, len(row))
			for j := range row {
				placeholders[j] = fmt.Sprintf("$%d", len(args)+j+1)
			}
			values = append(values, "("+strings.Join(placeholders, ", ")+")")
			args = append(args, row...)
		}

		if _, err := tx.ExecContext(ctx, prefix+strings.Join(values, ", ")+suffix, args...); err != nil {
			return err
		}
	}
	return nil
}
