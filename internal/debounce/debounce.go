// Package debounce delays committing a rapidly changing value until it has
// been quiet for a fixed interval.
package debounce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultDelay is the quiet interval used for free-text search fields.
const DefaultDelay = 300 * time.Millisecond

type options struct {
	clock clock.Clock
}

// Option configures a Debouncer.
type Option func(*options)

// WithClock injects the time source; tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Debouncer calls its committer with the latest scheduled value once no new
// value has arrived for the configured delay. It is safe for concurrent use.
type Debouncer[T any] struct {
	delay  time.Duration
	commit func(T)
	clock  clock.Clock

	// commitMu is held while the committer runs so Stop can wait it out.
	commitMu sync.Mutex

	mu      sync.Mutex
	timer   *clock.Timer
	gen     uint64
	value   T
	pending bool
	stopped bool
}

// New returns a Debouncer. A non-positive delay commits on the next timer
// tick, which still coalesces values scheduled in the same instant.
func New[T any](delay time.Duration, commit func(T), opts ...Option) *Debouncer[T] {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if delay < 0 {
		delay = 0
	}
	return &Debouncer[T]{delay: delay, commit: commit, clock: o.clock}
}

// Schedule records v as the latest value and restarts the quiet interval.
// It is a no-op after Stop.
func (d *Debouncer[T]) Schedule(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.value = v
	d.pending = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	d.mu.Lock()
	if gen != d.gen || d.stopped || !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.commit(v)
}

// Cancel drops the pending value, if any. A timer that already expired but
// has not yet committed will not commit.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Debouncer[T]) cancelLocked() {
	d.gen++
	d.pending = false
	var zero T
	d.value = zero
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Flush commits the pending value immediately. It reports whether there was
// one.
func (d *Debouncer[T]) Flush() bool {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	d.mu.Lock()
	if d.stopped || !d.pending {
		d.mu.Unlock()
		return false
	}
	v := d.value
	d.pending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.commit(v)
	return true
}

// Pending reports whether a value is waiting to be committed.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending value, disables the Debouncer and waits for a
// committer call already in progress to return. It must not be called from
// the committer.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.cancelLocked()
	d.mu.Unlock()

	d.commitMu.Lock()
	defer d.commitMu.Unlock()
}
