package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/casfos/registry/pkg/kafka"
	"github.com/casfos/registry/pkg/metrics"
)

// Collector publishes events asynchronously. Track never blocks: when the
// buffer is full the event is dropped and counted.
type Collector struct {
	publisher kafka.Publisher
	eventCh   chan kafka.Event
	metrics   *metrics.Metrics
	logger    *slog.Logger
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(publisher kafka.Publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan kafka.Event, bufferSize),
		metrics:   m,
		logger:    slog.Default().With("component", "audit-collector"),
		done:      make(chan struct{}),
	}
}

// Start launches the publish loop. It runs until ctx is cancelled or Close
// is called, publishing whatever is still buffered before it exits.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("audit collector started", "buffer_size", cap(c.eventCh))
}

// Track queues an event keyed by key.
func (c *Collector) Track(key string, event any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- kafka.Event{Key: key, Value: event}:
	default:
		c.metrics.AuditEventsDroppedTotal.Inc()
		c.logger.Warn("audit event dropped (buffer full)", "key", key)
	}
}

// Close stops accepting events and waits for the loop started by Start.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event kafka.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Error("failed to publish audit event", "key", event.Key, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx := context.Background()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		default:
			return
		}
	}
}
