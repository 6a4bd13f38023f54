// Package resilience guards calls to the records backend and to startup
// dependencies: a circuit breaker, a jittered retry loop and a deadline
// wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrCircuitOpen is returned without calling fn while the breaker rejects
// requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a CircuitBreaker. The numeric values are exported
// as the circuit_breaker_state gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a CircuitBreaker. Zero fields take defaults.
// OnStateChange runs with the breaker locked and must not call back into it.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	OnStateChange       func(name string, to State)
	Clock               clock.Clock
}

// CircuitBreaker opens after FailureThreshold consecutive counted failures
// and rejects calls until ResetTimeout has passed. It then admits up to
// HalfOpenMaxRequests probes; one success closes it, one failure reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time
	lastErr  error
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute calls fn unless the breaker is rejecting. counts decides which
// errors are failures of the guarded dependency; errors it rejects are
// returned but recorded as successes. A nil counts treats every error as a
// failure.
func (cb *CircuitBreaker) Execute(fn func() error, counts func(error) bool) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	failed := err != nil && (counts == nil || counts(err))

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if failed {
		cb.recordFailure(err)
	} else {
		cb.recordSuccess()
	}
	return err
}

// GetState returns the current phase. An open breaker whose reset timeout
// has passed still reports open until the next call probes it.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and forgets recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probes, cb.lastErr = 0, 0, nil
	cb.transition(StateClosed)
	cb.logger.Info("circuit reset")
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.cfg.Clock.Since(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s for another %v (last error: %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond), cb.lastErr)
		}
		cb.probes = 1
		cb.transition(StateHalfOpen)
		cb.logger.Info("probing after reset timeout", "reset_timeout", cb.cfg.ResetTimeout)
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s is waiting on %d probe(s)", ErrCircuitOpen, cb.name, cb.probes)
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.probes = 0
		cb.lastErr = nil
		cb.transition(StateClosed)
		cb.logger.Info("circuit closed after successful probe")
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.failures++
	cb.lastErr = err
	switch {
	case cb.state == StateHalfOpen:
		cb.open()
		cb.logger.Warn("probe failed, circuit reopened", "error", err)
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.open()
		cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures, "error", err)
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.cfg.Clock.Now()
	cb.probes = 0
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
