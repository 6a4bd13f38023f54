package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/casfos/registry/pkg/config"
)

// Event is one message to publish. Events with the same Key, such as one
// record id, land on the same partition and stay ordered.
type Event struct {
	Key   string
	Value any
}

// Publisher publishes single events. audit.Collector depends on it so tests
// can record events without a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Producer writes JSON events to one topic.
type Producer struct {
	topic  string
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer returns a Producer for topic. Writes wait for all in-sync
// replicas since review events double as the audit trail.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           20 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes one event and waits for the broker to acknowledge it.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event first and writes nothing if any of them
// fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now()
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("encoding event %q for %s: %w", e.Key, p.topic, err)
		}
		msgs[i] = kafka.Message{Key: []byte(e.Key), Value: value, Time: now}
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("write failed", "events", len(msgs), "error", err)
		return fmt.Errorf("publishing %d event(s) to %s: %w", len(msgs), p.topic, err)
	}
	p.logger.Debug("published", "events", len(msgs))
	return nil
}

// Close flushes buffered writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
