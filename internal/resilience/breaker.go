// Package resilience provides the fault-tolerance primitives guarding
// calls to unreliable dependencies: a circuit breaker that fails fast when
// a downstream is unhealthy, and a bounded exponential-backoff retry
// strategy with jitter. The two compose; layer Retry under Breaker so an
// open circuit is not itself retried.
package resilience

import (
	"context"
	"sync"
	"time"

	"sentra.org/internal/obs"
)

// State enumerates breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes the state machine.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before admitting a
	// half-open probe.
	ResetTimeout time.Duration
	// HalfOpenTimeout bounds how long a half-open probe may stay
	// outstanding before another probe becomes eligible. This is a
	// liveness safeguard, not an automatic close.
	HalfOpenTimeout time.Duration
}

// Breaker guards one logical dependency and is shared across all of its
// concurrent callers. State transitions are serialized by a mutex so a
// failure or success event is never double-counted or lost.
type Breaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu             sync.Mutex
	state          State
	failureCount   int
	lastFailureAt  time.Time
	lastSuccessAt  time.Time
	probeInFlight  bool
	probeStartedAt time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the time source (useful for tests).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewBreaker constructs a closed Breaker named for the dependency it
// guards.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	b := &Breaker{
		name:   name,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn under the breaker. When admission is denied it returns
// ErrCircuitOpen without invoking fn; otherwise fn's own error is returned
// after bookkeeping, so callers can tell "breaker open" apart from
// "underlying call failed". If ctx is cancelled while fn runs, the outcome
// is not recorded against the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if ctx.Err() != nil {
		// Cancelled by the caller, not judged by the dependency.
		b.releaseProbe()
		return err
	}
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.lastFailureAt) > b.config.ResetTimeout {
			b.transition(StateHalfOpen)
			b.probeInFlight = true
			b.probeStartedAt = now
			return true
		}
		return false
	default: // StateHalfOpen
		if !b.probeInFlight {
			b.probeInFlight = true
			b.probeStartedAt = now
			return true
		}
		// A stalled probe must not wedge the breaker half-open forever.
		if now.Sub(b.probeStartedAt) > b.config.HalfOpenTimeout {
			b.probeStartedAt = now
			return true
		}
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccessAt = b.now()
	b.probeInFlight = false
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
		b.failureCount = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.now()
	b.probeInFlight = false

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	obs.BreakerTransition(b.name, to.String())
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker currently rejects calls outright.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// FailureCount returns the consecutive failure counter.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// FailureRate reports failureCount/failureThreshold as a bounded
// informational metric; it plays no part in transitions.
func (b *Breaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.failureCount) / float64(b.config.FailureThreshold)
}

// Reset forces the breaker closed with all counters cleared. This is an
// administrative escape hatch.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failureCount = 0
	b.probeInFlight = false
	b.lastFailureAt = time.Time{}
	b.lastSuccessAt = time.Time{}
}
