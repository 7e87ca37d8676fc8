package ingestion

import (
	"context"
	"time"

	"Clawboard/internal/core"
	"Clawboard/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter is the synchronous ingest path used by the gRPC and HTTP
// surfaces: parse one JSON command and apply it through the engine. NATS is
// the high-throughput path; this one returns the result to the caller.
type Submitter struct {
	engine  Executor
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewSubmitter(engine Executor, metrics *observability.Metrics, logger zerolog.Logger) *Submitter {
	return &Submitter{engine: engine, metrics: metrics, logger: logger}
}

// Submit parses and executes a command of the named type.
func (s *Submitter) Submit(ctx context.Context, commandType string, data []byte) (*core.Result, error) {
	start := time.Now()

	cmd, err := ParseCommand(commandType, data)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IngestMalformed.WithLabelValues("rpc").Inc()
		}
		return nil, err
	}

	res, err := s.engine.Execute(ctx, cmd)
	if s.metrics != nil {
		s.metrics.IngestToApply.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	if res.Duplicate {
		s.logger.Debug().
			Str("command", commandType).
			Str("request_id", cmd.Metadata().RequestID.String()).
			Msg("duplicate submission")
	}
	return res, nil
}
