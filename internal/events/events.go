package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Type string

const (
	CodeIssued Type = "code_issued"
	Authorized Type = "authorized"
	Rejected   Type = "rejected"
)

// Event is a portal audit record. It never carries verification codes.
type Event struct {
	ID         string            `json:"event_id"`
	Type       Type              `json:"type"`
	ClientKey  string            `json:"client_key"`
	OccurredAt time.Time         `json:"occurred_at"`
	Meta       map[string]string `json:"meta,omitempty"`
}

func New(t Type, clientKey string, meta map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ClientKey:  clientKey,
		OccurredAt: time.Now().UTC(),
		Meta:       meta,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher keys events by client so one guest's events stay ordered.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaWriter returns an async writer so publishing never holds up a guest
// request. Delivery failures surface through logger.
func NewKafkaWriter(brokers []string, topic string, logger zerolog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Completion:   completionLogger(logger),
	}
}

func completionLogger(logger zerolog.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("count", len(msgs)).Msg("portal events not delivered")
		}
	}
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ClientKey),
		Value: value,
	}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Nop drops every event; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
