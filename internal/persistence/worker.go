package persistence

import (
	"context"
	"database/sql"
	"time"

	"Clawboard/internal/core"
	"Clawboard/internal/observability"

	"github.com/rs/zerolog"
)

// BatchWriter is the sink the worker flushes into.
type BatchWriter interface {
	WriteBatch(ctx context.Context, b *Batch) error
}

// Worker drains the persist channel and batch-writes to Postgres.
// The engine sends with a BLOCKING send, so if this worker falls behind the
// engine stalls and no output is lost.
type Worker struct {
	writer       BatchWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	maxBackoff time.Duration
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return NewWorkerWithWriter(NewWriter(db), inputChan, batchSize, flushTimeout, metrics, logger)
}

// NewWorkerWithWriter is NewWorker over an arbitrary sink.
func NewWorkerWithWriter(
	writer BatchWriter,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Millisecond
	}
	return &Worker{
		writer:       writer,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
		maxBackoff:   30 * time.Second,
	}
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (w *Worker) Run(ctx context.Context) error {
	pending := make([]core.CoreOutput, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(pending) > 0 {
				if err := w.flush(context.Background(), pending); err != nil {
					w.logger.Error().Err(err).Int("outputs", len(pending)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(pending) > 0 {
					if err := w.flushWithRetry(context.Background(), pending); err != nil {
						w.logger.Error().Err(err).Int("outputs", len(pending)).Msg("final flush failed")
					}
				}
				return nil
			}

			pending = append(pending, out)
			if len(pending) >= w.batchSize {
				if err := w.flushWithRetry(ctx, pending); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				pending = pending[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(pending) > 0 {
				if err := w.flushWithRetry(ctx, pending); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				pending = pending[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made.
func (w *Worker) flushWithRetry(ctx context.Context, outputs []core.CoreOutput) error {
	backoff := 100 * time.Millisecond
	if backoff > w.maxBackoff {
		backoff = w.maxBackoff
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("outputs", len(outputs)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), outputs)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
		}

		err := w.flush(ctx, outputs)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		w.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (w *Worker) flush(ctx context.Context, outputs []core.CoreOutput) error {
	start := time.Now()

	batch, err := NewBatch(outputs)
	if err != nil {
		w.recordError("encode")
		return err
	}

	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		w.recordError("write")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(outputs)))
		w.metrics.PersistEventsWritten.Add(float64(len(batch.Events)))
		w.metrics.PersistStateRows.Add(float64(len(batch.State)))
		w.metrics.PersistLastSequence.Set(float64(batch.LastSequence()))
	}
	return nil
}

func (w *Worker) recordError(kind string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
