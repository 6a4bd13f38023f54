// Package collector buffers filter events in memory and hands them to Kafka
// in batches, so the search path never waits on the broker.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/casfos/registry/pkg/kafka"
)

// finalFlushTimeout bounds the flush made after the loop's context ends.
const finalFlushTimeout = 5 * time.Second

// BatchPublisher is implemented by kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector sends its buffer when it reaches batchSize events or when
// flushInterval elapses. A failed batch goes back to the front of the
// buffer, which never holds more than three batches; the oldest events are
// dropped past that.
type BatchCollector struct {
	publisher     BatchPublisher
	batchSize     int
	flushInterval time.Duration
	clock         clock.Clock
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []kafka.Event

	full chan struct{}
	done chan struct{}
}

// Option configures a BatchCollector.
type Option func(*BatchCollector)

// WithClock replaces the flush ticker's clock.
func WithClock(c clock.Clock) Option {
	return func(bc *BatchCollector) { bc.clock = c }
}

// NewBatchCollector applies defaults of 100 events and 5s to non-positive
// sizes and intervals.
func NewBatchCollector(publisher BatchPublisher, batchSize int, flushInterval time.Duration, opts ...Option) *BatchCollector {
	bc := &BatchCollector{
		publisher:     publisher,
		batchSize:     positiveOr(batchSize, 100),
		flushInterval: positiveOr(flushInterval, 5*time.Second),
		clock:         clock.New(),
		logger:        slog.Default().With("component", "filter-events"),
		full:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// Start runs the flush loop until ctx ends, then flushes what is left.
func (bc *BatchCollector) Start(ctx context.Context) {
	ticker := bc.clock.Ticker(bc.flushInterval)
	go func() {
		defer close(bc.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-bc.full:
			case <-ctx.Done():
				final, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				bc.flush(final)
				cancel()
				return
			}
			bc.flush(ctx)
		}
	}()
	bc.logger.Info("filter event collector started", "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
}

// Track buffers one event. Reaching batchSize wakes the flush loop.
func (bc *BatchCollector) Track(key string, value any) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: key, Value: value})
	n := len(bc.buffer)
	bc.mu.Unlock()

	if n >= bc.batchSize {
		select {
		case bc.full <- struct{}{}:
		default:
		}
	}
}

// Close blocks until the loop started by Start has made its final flush.
// Cancel Start's context first.
func (bc *BatchCollector) Close() {
	<-bc.done
}

// BufferLen reports how many events are waiting.
func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) take() []kafka.Event {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	batch := bc.buffer
	bc.buffer = nil
	return batch
}

func (bc *BatchCollector) requeue(batch []kafka.Event) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.buffer = append(batch, bc.buffer...)
	if excess := len(bc.buffer) - 3*bc.batchSize; excess > 0 {
		bc.buffer = bc.buffer[excess:]
		bc.logger.Warn("filter events dropped", "dropped", excess)
	}
}

func (bc *BatchCollector) flush(ctx context.Context) {
	batch := bc.take()
	if len(batch) == 0 {
		return
	}
	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("publishing filter events", "events", len(batch), "error", err)
		bc.requeue(batch)
		return
	}
	bc.logger.Debug("filter events published", "events", len(batch))
}
