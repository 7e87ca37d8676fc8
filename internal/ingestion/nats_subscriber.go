package ingestion

import (
	"context"
	"fmt"
	"time"

	"Clawboard/internal/core"
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// CommandStream holds inbound commands on clawboard.commands.>
	CommandStream = "CLAWBOARD_COMMANDS"
	// CommandConsumer is the durable consumer the engine reads through.
	CommandConsumer = "clawboard-engine"
)

// RawCommand is a message from NATS not yet parsed into a typed command.
type RawCommand struct {
	Subject    string
	Data       []byte
	ReceivedAt time.Time
	AckFunc    func() // ACK after the engine applied or deterministically rejected it
	NakFunc    func() // NAK on transient failure (will be redelivered)
	TermFunc   func() // TERM for messages that can never be parsed
}

// Executor is the engine surface the ingestion loop drives.
type Executor interface {
	Execute(ctx context.Context, cmd core.Command) (*core.Result, error)
}

// CommandSubscriber subscribes to the JetStream command stream and feeds
// raw commands into commandChan.
type CommandSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumer    jetstream.ConsumeContext
	logger      zerolog.Logger
}

func NewCommandSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand, logger zerolog.Logger) *CommandSubscriber {
	return &CommandSubscriber{
		js:          js,
		commandChan: commandChan,
		logger:      logger,
	}
}

// Subscribe creates the durable consumer.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (cs *CommandSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: SubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject:    msg.Subject(),
			Data:       msg.Data(),
			ReceivedAt: time.Now(),
			AckFunc:    func() { msg.Ack() },
			NakFunc:    func() { msg.Nak() },
			TermFunc:   func() { msg.Term() },
		}

		select {
		case cs.commandChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}

	cs.consumer = cc
	cs.logger.Info().Str("subject", SubjectPrefix+">").Str("consumer", CommandConsumer).Msg("subscribed")
	return nil
}

// Stop gracefully stops the consumer.
func (cs *CommandSubscriber) Stop() {
	if cs.consumer != nil {
		cs.consumer.Stop()
	}
	cs.logger.Info().Msg("NATS subscriber stopped")
}

// IngestLoop parses raw commands and applies them through the engine.
type IngestLoop struct {
	engine  Executor
	input   <-chan RawCommand
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIngestLoop(engine Executor, input <-chan RawCommand, metrics *observability.Metrics, logger zerolog.Logger) *IngestLoop {
	return &IngestLoop{engine: engine, input: input, metrics: metrics, logger: logger}
}

// Run blocks until ctx is cancelled or input is closed.
func (l *IngestLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-l.input:
			if !ok {
				return nil
			}
			l.Handle(ctx, raw)
		}
	}
}

// Handle processes one message. Engine rejections are final (the same
// command would be rejected again) and are acknowledged; only context
// cancellation leads to redelivery.
func (l *IngestLoop) Handle(ctx context.Context, raw RawCommand) {
	name, ok := CommandTypeFromSubject(raw.Subject)
	if !ok {
		l.malformed(raw, fmt.Errorf("unexpected subject"))
		return
	}

	cmd, err := ParseCommand(name, raw.Data)
	if err != nil {
		l.malformed(raw, err)
		return
	}

	res, err := l.engine.Execute(ctx, cmd)
	if err != nil && ctx.Err() != nil {
		call(raw.NakFunc)
		return
	}

	if l.metrics != nil && !raw.ReceivedAt.IsZero() {
		l.metrics.IngestToApply.WithLabelValues(name).Observe(time.Since(raw.ReceivedAt).Seconds())
	}

	switch {
	case err != nil:
		l.logger.Info().
			Str("command", name).
			Str("request_id", cmd.Metadata().RequestID.String()).
			Str("code", string(cerrors.CodeOf(err))).
			Msg("command rejected")
	case res.Duplicate:
		l.logger.Debug().
			Str("command", name).
			Str("request_id", cmd.Metadata().RequestID.String()).
			Msg("duplicate command")
	}
	call(raw.AckFunc)
}

func (l *IngestLoop) malformed(raw RawCommand, err error) {
	if l.metrics != nil {
		l.metrics.IngestMalformed.WithLabelValues(raw.Subject).Inc()
	}
	l.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed command")
	call(raw.TermFunc)
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// EnsureStreams creates the command stream if it doesn't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{SubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("clawboard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
