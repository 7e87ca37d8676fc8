package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Clawboard/internal/core"
	"Clawboard/internal/event"
	"Clawboard/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	// EventSubjectPrefix is the outbound namespace: clawboard.events.{EventType}
	EventSubjectPrefix = "clawboard.events."
	// EventStream holds outbound events.
	EventStream = "CLAWBOARD_EVENTS"
)

// PublishableEvent is a committed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence  int64       `json:"sequence"`
	LogIndex  int         `json:"log_index"`
	RequestID string      `json:"request_id"`
	Command   string      `json:"command"`
	EventType string      `json:"event_type"`
	Payload   event.Event `json:"payload"`
	StateHash string      `json:"state_hash"`
	Timestamp time.Time   `json:"timestamp"`
}

// MsgID is the broker-side dedup id of the event.
func (e PublishableEvent) MsgID() string {
	return fmt.Sprintf("%d-%d", e.Sequence, e.LogIndex)
}

// PublishableEvents flattens one engine output.
func PublishableEvents(out core.CoreOutput) []PublishableEvent {
	events := make([]PublishableEvent, len(out.Envelopes))
	for i, env := range out.Envelopes {
		events[i] = PublishableEvent{
			Sequence:  env.Sequence,
			LogIndex:  env.LogIndex,
			RequestID: env.RequestID.String(),
			Command:   env.Command,
			EventType: env.EventType.String(),
			Payload:   env.Payload,
			StateHash: hex.EncodeToString(env.StateHash[:]),
			Timestamp: env.Timestamp,
		}
	}
	return events
}

// Publisher delivers one event to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt PublishableEvent) error
	Backend() string
}

// OutboundPublisher drains the engine's publish channel and hands every
// event to the configured brokers. Publishing is best effort: downstream
// consumers can read the event log when they miss something.
type OutboundPublisher struct {
	publishers []Publisher
	inputChan  <-chan core.CoreOutput
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewOutboundPublisher(inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger, publishers ...Publisher) *OutboundPublisher {
	return &OutboundPublisher{
		publishers: publishers,
		inputChan:  inputChan,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, evt := range PublishableEvents(out) {
				op.publish(ctx, evt)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) {
	for _, p := range op.publishers {
		if err := p.Publish(ctx, evt); err != nil {
			op.logger.Warn().
				Err(err).
				Str("backend", p.Backend()).
				Int64("sequence", evt.Sequence).
				Str("event_type", evt.EventType).
				Msg("outbound publish failed")
			if op.metrics != nil {
				op.metrics.PublishErrors.WithLabelValues(p.Backend()).Inc()
			}
			continue
		}
		if op.metrics != nil {
			op.metrics.EventsPublished.WithLabelValues(p.Backend()).Inc()
		}
	}
}

// --- NATS JetStream ---

// JetStreamPublisher publishes to clawboard.events.{EventType} with the
// event position as Nats-Msg-Id so redeliveries are deduplicated.
type JetStreamPublisher struct {
	js jetstream.JetStream
}

func NewJetStreamPublisher(js jetstream.JetStream) *JetStreamPublisher {
	return &JetStreamPublisher{js: js}
}

func (p *JetStreamPublisher) Backend() string { return "nats" }

func (p *JetStreamPublisher) Publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.js.Publish(ctx, EventSubjectPrefix+evt.EventType, data, jetstream.WithMsgID(evt.MsgID()))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// --- RabbitMQ ---

// AMQPConfig describes the RabbitMQ exchange events are published to.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPPublisher publishes to a topic exchange with the event type as
// routing key.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "clawboard.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Backend() string { return "amqp" }

func (p *AMQPPublisher) Publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, evt.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.MsgID(),
		Timestamp:    evt.Timestamp,
		Type:         evt.EventType,
		Body:         data,
	})
}

// Ping reports whether the connection is still open.
func (p *AMQPPublisher) Ping(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
