package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/debounce"
	"github.com/casfos/registry/pkg/kafka"
)

// ChangeListener invalidates cached lists when record-change events arrive.
// A burst of changes is coalesced into one invalidation per collection once
// the topic has been quiet for the delay.
type ChangeListener struct {
	cache     *RecordCache
	debouncer *debounce.Debouncer[struct{}]
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]bool
}

// NewChangeListener returns a listener; Close stops it.
func NewChangeListener(c *RecordCache, delay time.Duration, clk clock.Clock) *ChangeListener {
	if clk == nil {
		clk = clock.New()
	}
	l := &ChangeListener{
		cache:   c,
		timeout: 5 * time.Second,
		pending: make(map[string]bool),
		logger:  slog.Default().With("component", "record-change-listener"),
	}
	l.debouncer = debounce.New(delay, func(struct{}) { l.flush() }, debounce.WithClock(clk))
	return l
}

// Handle is a kafka.MessageHandler for the record-changes topic.
func (l *ChangeListener) Handle(_ context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeJSON[audit.RecordChangeEvent](value)
	if err != nil {
		return err
	}
	l.Notify(ev.Collection)
	return nil
}

// Notify marks collection stale.
func (l *ChangeListener) Notify(collection string) {
	l.mu.Lock()
	l.pending[collection] = true
	l.mu.Unlock()
	l.debouncer.Schedule(struct{}{})
}

// Pending reports collections awaiting invalidation.
func (l *ChangeListener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Close invalidates anything still pending and stops the listener.
func (l *ChangeListener) Close() {
	l.debouncer.Flush()
	l.debouncer.Stop()
}

func (l *ChangeListener) flush() {
	l.mu.Lock()
	collections := l.pending
	l.pending = make(map[string]bool)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	for collection := range collections {
		if _, err := l.cache.Invalidate(ctx, collection, "change_event"); err != nil {
			l.logger.Error("invalidation after record change failed", "collection", collection, "error", err)
		}
	}
}
