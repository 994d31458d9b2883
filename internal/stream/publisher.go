// Package stream publishes engine events to Kafka.
package stream

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"consensus-trader/internal/config"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/metrics"
	"consensus-trader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventIntent   EventType = "intent"
	EventDecision EventType = "decision"
)

// Event is the envelope written to every topic.
type Event struct {
	Type      EventType   `json:"type"`
	Symbol    string      `json:"symbol"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DecisionEvent pairs a consensus decision with the gate verdict.
type DecisionEvent struct {
	Decision   models.ConsensusDecision `json:"decision"`
	Assessment models.RiskAssessment    `json:"assessment"`
	IntentID   string                   `json:"intent_id,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes intents and decisions to their topics, keyed by symbol so
// events for one symbol stay ordered within a partition.
type Publisher struct {
	writer        MessageWriter
	intentTopic   string
	decisionTopic string
	timeout       time.Duration
	logger        zerolog.Logger
}

// NewPublisher creates a publisher backed by a kafka-go writer.
func NewPublisher(cfg config.KafkaConfig, logger zerolog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.NewConfigError("kafka.brokers", "", "brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewPublisherWithWriter(writer, cfg, logger), nil
}

// NewPublisherWithWriter creates a publisher around an existing writer.
func NewPublisherWithWriter(w MessageWriter, cfg config.KafkaConfig, logger zerolog.Logger) *Publisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		writer:        w,
		intentTopic:   cfg.IntentTopic,
		decisionTopic: cfg.DecisionTopic,
		timeout:       timeout,
		logger:        logger.With().Str("component", "stream").Logger(),
	}
}

// Name identifies the publisher as an intent sink.
func (p *Publisher) Name() string {
	return "kafka"
}

// Dispatch publishes an approved intent.
func (p *Publisher) Dispatch(ctx context.Context, intent models.ExecutionIntent) error {
	return p.publish(ctx, p.intentTopic, Event{
		Type:      EventIntent,
		Symbol:    intent.Symbol,
		Timestamp: intent.Timestamp,
		Payload:   intent,
	})
}

// PublishDecision publishes a decision and its assessment.
func (p *Publisher) PublishDecision(ctx context.Context, ev DecisionEvent) error {
	if p.decisionTopic == "" {
		return nil
	}
	return p.publish(ctx, p.decisionTopic, Event{
		Type:      EventDecision,
		Symbol:    ev.Decision.Symbol,
		Timestamp: ev.Decision.Timestamp,
		Payload:   ev,
	})
}

func (p *Publisher) publish(ctx context.Context, topic string, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(ev.Symbol),
		Value: value,
		Time:  ev.Timestamp,
	})
	metrics.ObservePublish(topic, time.Since(start), err)
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Str("symbol", ev.Symbol).Msg("Publish failed")
		return errors.Wrapf(err, "publish %s to %s", ev.Type, topic)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
