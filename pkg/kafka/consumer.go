// Package kafka carries the registry's events over Kafka using
// segmentio/kafka-go: review and filter events for the audit service and
// record changes for the directory's list cache. Values are JSON.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/casfos/registry/pkg/config"
)

// ErrMalformed marks a message that can never be processed. The consumer
// commits past it; any other handler error leaves the offset uncommitted so
// the message is redelivered after a rebalance or restart.
var ErrMalformed = errors.New("malformed kafka message")

// MessageHandler processes one message value.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer feeds one topic to a MessageHandler as part of a consumer group.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer joins the group cfg.ConsumerGroup, suffixed with groupSuffix
// when set so the directory and the audit service each see every event on a
// shared topic. A new group starts from the latest offset.
func NewConsumer(cfg config.KafkaConfig, topic, groupSuffix string, handler MessageHandler) *Consumer {
	group := cfg.ConsumerGroup
	if groupSuffix != "" {
		group += "-" + groupSuffix
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     group,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", group),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consuming")
	defer c.logger.Info("stopped consuming")
	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("fetch failed", "error", err)
			}
			continue
		}
		if c.process(ctx, msg) {
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Error("commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			}
		}
	}
	return c.reader.Close()
}

// process reports whether msg's offset may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
	err := c.handler(ctx, msg.Key, msg.Value)
	switch {
	case err == nil:
		log.Debug("message handled", "bytes", len(msg.Value))
		return true
	case errors.Is(err, ErrMalformed):
		log.Warn("skipping malformed message", "error", err)
		return true
	default:
		log.Error("message not handled, leaving uncommitted", "error", err)
		return false
	}
}

// DecodeJSON unmarshals a message value into T. Failures match ErrMalformed.
func DecodeJSON[T any](value []byte) (T, error) {
	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return out, nil
}
