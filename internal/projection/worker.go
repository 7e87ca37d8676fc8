package projection

import (
	"context"
	"database/sql"
	"fmt"

	"Clawboard/internal/event"
	"Clawboard/internal/ingestion"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// WorkerID keys this projector's row in clawboard_projection_watermark.
const WorkerID = "tips"

// TipProjector maintains clawboard_tips (tipper as lowercase hex, the
// same form the event log's JSON carries) from TipRecorded events. It plugs
// into the outbound fan-out as one more Publisher, so it sees events on the
// same best-effort path as the brokers. Missed events are recovered with
// Rebuild, which reads the authoritative event log.
type TipProjector struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewTipProjector(db *sql.DB, logger zerolog.Logger) *TipProjector {
	return &TipProjector{db: db, logger: logger}
}

func (p *TipProjector) Backend() string { return "projection" }

// Publish records a tip and advances the watermark. Other event types are
// ignored.
func (p *TipProjector) Publish(ctx context.Context, evt ingestion.PublishableEvent) error {
	tip, ok := evt.Payload.(*event.TipRecorded)
	if !ok {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO clawboard_tips (sequence, log_index, agent_id, tipper, amount, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence, log_index) DO NOTHING
	`, evt.Sequence, evt.LogIndex, tip.AgentID, hexutil.Encode(tip.Tipper.Bytes()), tip.Amount.Dec(), evt.Timestamp); err != nil {
		return fmt.Errorf("insert tip: %w", err)
	}

	if err := setWatermark(ctx, tx, evt.Sequence); err != nil {
		return err
	}
	return tx.Commit()
}

// Watermark returns the last sequence the projector applied, 0 if none.
func (p *TipProjector) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := p.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM clawboard_projection_watermark WHERE worker_id = $1
	`, WorkerID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// Stale reports whether the event log holds a tip past the watermark,
// i.e. the projection missed events while it was not running.
func (p *TipProjector) Stale(ctx context.Context) (bool, error) {
	wm, err := p.Watermark(ctx)
	if err != nil {
		return false, err
	}
	var last sql.NullInt64
	if err := p.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM clawboard_events WHERE event_type = $1
	`, event.EventTypeTipRecorded.String()).Scan(&last); err != nil {
		return false, fmt.Errorf("read last tip: %w", err)
	}
	return last.Int64 > wm, nil
}

// Rebuild truncates clawboard_tips and refills it from clawboard_events.
func (p *TipProjector) Rebuild(ctx context.Context) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE clawboard_tips`); err != nil {
		return 0, fmt.Errorf("truncate tips: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO clawboard_tips (sequence, log_index, agent_id, tipper, amount, ts)
		SELECT sequence, log_index,
		       payload->>'agent_id',
		       payload->>'tipper',
		       (payload->>'amount')::NUMERIC,
		       ts
		FROM clawboard_events
		WHERE event_type = $1
	`, event.EventTypeTipRecorded.String())
	if err != nil {
		return 0, fmt.Errorf("rebuild tips: %w", err)
	}
	rows, _ := res.RowsAffected()

	var head sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM clawboard_commands`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	if err := setWatermark(ctx, tx, head.Int64); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	p.logger.Info().Int64("tips", rows).Int64("sequence", head.Int64).Msg("tip projection rebuilt")
	return rows, nil
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO clawboard_projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = GREATEST(clawboard_projection_watermark.last_sequence, EXCLUDED.last_sequence),
			    updated_at = NOW()
	`, WorkerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}
