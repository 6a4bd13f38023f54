package listing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/casfos/registry/internal/debounce"
	"github.com/casfos/registry/internal/remotefilter"
	"github.com/casfos/registry/pkg/metrics"
)

// Result is an applied outcome and the request sequence number that
// produced it.
type Result[C any] struct {
	Seq      uint64
	Criteria C
	remotefilter.Outcome
}

type screenOptions struct {
	collection string
	delay      time.Duration
	clock      clock.Clock
	metrics    *metrics.Metrics
	onChange   any
}

// Option configures a Screen.
type Option func(*screenOptions)

// WithCollection labels metrics and logs, e.g. "faculty".
func WithCollection(name string) Option {
	return func(o *screenOptions) { o.collection = name }
}

// WithDebounce sets the quiet interval for Type.
func WithDebounce(d time.Duration) Option {
	return func(o *screenOptions) { o.delay = d }
}

// WithClock injects the debounce clock.
func WithClock(c clock.Clock) Option {
	return func(o *screenOptions) { o.clock = c }
}

// WithMetrics records filter counts, latency and stale discards.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *screenOptions) { o.metrics = m }
}

// OnChange registers fn to receive every applied result, in order. fn runs
// on the goroutine that applied the result and must not call back into the
// Screen.
func OnChange[C any](fn func(Result[C])) Option {
	return func(o *screenOptions) { o.onChange = fn }
}

// Screen holds the current criteria and result of one listing. Every
// refresh takes the next sequence number; a result is applied only if no
// newer refresh was started meanwhile, and starting a refresh cancels the
// context of the one before it. Screen is safe for concurrent use.
type Screen[C any] struct {
	source     Source[C]
	collection string
	metrics    *metrics.Metrics
	onChange   func(Result[C])
	debouncer  *debounce.Debouncer[C]
	logger     *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	seq      uint64
	applied  uint64
	inflight context.CancelFunc
	current  Result[C]

	notifyMu sync.Mutex
}

// NewScreen returns a Screen backed by src. Close releases it.
func NewScreen[C any](src Source[C], opts ...Option) *Screen[C] {
	o := screenOptions{
		collection: "records",
		delay:      debounce.DefaultDelay,
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Screen[C]{
		source:     src,
		collection: o.collection,
		metrics:    o.metrics,
		logger:     slog.Default().With("component", "listing", "collection", o.collection, "mode", string(src.Mode())),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	if fn, ok := o.onChange.(func(Result[C])); ok {
		s.onChange = fn
	}
	s.debouncer = debounce.New(o.delay, func(c C) {
		s.Refresh(s.baseCtx, c)
	}, debounce.WithClock(o.clock))
	return s
}

// Refresh applies c now and blocks until its outcome is known. applied is
// false when a newer refresh started before this one finished; the returned
// result is then the discarded one.
func (s *Screen[C]) Refresh(ctx context.Context, c C) (res Result[C], applied bool) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	if s.inflight != nil {
		s.inflight()
	}
	rctx, cancel := context.WithCancel(ctx)
	s.inflight = cancel
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	out := s.source.Search(rctx, c)
	mode := string(s.source.Mode())
	s.metrics.FilterLatency.WithLabelValues(s.collection, mode).Observe(time.Since(start).Seconds())

	res = Result[C]{Seq: seq, Criteria: c, Outcome: out}

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		s.metrics.StaleResponsesTotal.Inc()
		s.logger.Debug("discarding stale result", "seq", seq)
		return res, false
	}
	s.inflight = nil
	s.applied = seq
	s.current = res
	s.mu.Unlock()

	s.metrics.FilterRequestsTotal.WithLabelValues(s.collection, mode, out.State.String()).Inc()
	s.metrics.FilterResultsCount.WithLabelValues(s.collection).Observe(float64(out.Count))
	if out.State == remotefilter.StateRequestFailed {
		s.logger.Error("filter request failed", "seq", seq, "error", out.Err)
	}
	s.notify(res)
	return res, true
}

func (s *Screen[C]) notify(res Result[C]) {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	latest := s.applied
	s.mu.Unlock()
	if res.Seq != latest {
		return
	}
	s.onChange(res)
}

// Type schedules c to be applied once input has been quiet for the debounce
// interval.
func (s *Screen[C]) Type(c C) {
	s.debouncer.Schedule(c)
}

// Flush applies a value scheduled by Type immediately.
func (s *Screen[C]) Flush() bool {
	return s.debouncer.Flush()
}

// Current returns the last applied result.
func (s *Screen[C]) Current() Result[C] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close cancels pending input and any in-flight refresh. Results arriving
// afterwards are discarded.
func (s *Screen[C]) Close() {
	s.debouncer.Stop()
	s.mu.Lock()
	s.seq++
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
	s.mu.Unlock()
	s.baseCancel()
}
