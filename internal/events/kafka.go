package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/hackgods/dialysis-scheduling/internal/appointment"
)

const (
	HeaderEventType = "event-type"
	HeaderSource    = "source"

	sourceName = "dialysis-reconciler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value written for every appointment event
type Envelope struct {
	EventType     string          `json:"event_type"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// KafkaPublisher writes appointment events to a topic keyed by appointment ID,
// so every event for one appointment lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	closed bool
	mu     sync.RWMutex
}

// NewKafkaPublisher creates a publisher for topic on brokers
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  compress.Snappy,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(msg string, args ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error().Msgf(msg, args...)
		}),
	}

	return newPublisher(writer, topic), nil
}

func newPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

// Publish writes ev to the events topic.
func (p *KafkaPublisher) Publish(ctx context.Context, ev appointment.EventLog) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	msg, err := buildMessage(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.EventType, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

func buildMessage(ev appointment.EventLog) (kafka.Message, error) {
	env := Envelope{
		EventType: ev.EventType,
		CreatedAt: ev.CreatedAt.UTC(),
	}
	if len(ev.Payload) > 0 {
		env.Payload = json.RawMessage(ev.Payload)
	}
	var key []byte
	if ev.AppointmentID != nil {
		env.AppointmentID = ev.AppointmentID.String()
		key = []byte(env.AppointmentID)
	}

	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", ev.EventType, err)
	}

	return kafka.Message{
		Key:   key,
		Value: value,
		Time:  env.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.EventType)},
			{Key: HeaderSource, Value: []byte(sourceName)},
		},
	}, nil
}
