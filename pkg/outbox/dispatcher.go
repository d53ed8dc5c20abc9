package outbox

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	// HeaderEventType carries Event.Type on every published message.
	HeaderEventType = "event_type"
	// HeaderAttempt is the 1-based publish attempt of the message.
	HeaderAttempt = "attempt"
)

// Producer is the subset of *kafka.Writer used by the Dispatcher.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes outbox events to a single topic keyed by aggregate.
type Dispatcher struct {
	lg       *zap.Logger
	producer Producer
	topic    string
}

// NewDispatcher returns a Dispatcher writing to topic through producer.
func NewDispatcher(lg *zap.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{lg: lg, producer: producer, topic: topic}
}

// Dispatch publishes one event.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers)+2)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)},
		kafka.Header{Key: HeaderAttempt, Value: []byte(strconv.Itoa(event.Attempts + 1))},
	)

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.lg.Error("Outbox dispatch failed", zap.Int64("event_id", event.ID), zap.Error(err))
		return errors.Wrapf(err, "dispatch event %d", event.ID)
	}
	d.lg.Debug("Outbox dispatched", zap.Int64("event_id", event.ID), zap.String("type", event.Type))
	return nil
}

// NewWriter returns a Kafka writer that waits for all in-sync replicas.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}
