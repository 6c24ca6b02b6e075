package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/config"
)

// Lifecycle event types.
const (
	ApplicationApproved = "application.approved"
	ApplicationRejected = "application.rejected"
	LoanDisbursed       = "loan.disbursed"
	RepaymentSettled    = "repayment.settled"
	AccountClosed       = "account.closed"
	AccountDefaulted    = "account.defaulted"
)

// Event is one lifecycle notification. AggregateID is used as the message
// key so every event of one account or application lands on one partition.
type Event struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	AggregateID string      `json:"aggregate_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Payload     interface{} `json:"payload,omitempty"`
}

// NewEvent stamps a new event of eventType for aggregateID.
func NewEvent(eventType, aggregateID string, payload interface{}, now time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  now,
		Payload:     payload,
	}
}

// Publisher emits lifecycle events after the state they describe is committed.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a single topic.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerList()...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
	}

	logger.Info("Kafka publisher created", zap.Strings("brokers", cfg.BrokerList()), zap.String("topic", cfg.Topic))
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(writer messageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", evt.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.AggregateID),
			Value: data,
			Time:  evt.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(evt.Type)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("Failed to publish events", zap.Int("count", len(msgs)), zap.Error(err))
		return fmt.Errorf("failed to publish events: %w", err)
	}

	p.logger.Debug("Events published", zap.Int("count", len(msgs)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs events. It stands in when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, evt := range events {
		p.logger.Info("event", zap.String("type", evt.Type), zap.String("aggregate_id", evt.AggregateID))
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
