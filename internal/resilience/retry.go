package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig tunes the backoff schedule and the retryable error set.
type RetryConfig struct {
	// MaxRetries bounds how many times a failed call is re-attempted
	// beyond the initial invocation.
	MaxRetries int
	// InitialDelay seeds the exponential schedule.
	InitialDelay time.Duration
	// MaxDelay caps each computed delay.
	MaxDelay time.Duration
	// ExponentialBase is the growth factor between attempts.
	ExponentialBase float64
	// Jitter perturbs each delay by ±25% (uniform) when enabled.
	Jitter bool
	// Retryable classifies errors worth retrying. A nil classifier
	// retries every error. Non-retryable errors propagate immediately
	// without consuming a retry slot.
	Retryable func(error) bool
}

// Attempt is a read-only snapshot of the most recent Execute call's
// progress, exposed for observability only.
type Attempt struct {
	Attempt   int
	StartTime time.Time
	LastErr   error
}

// Retry wraps a callable with bounded exponential-backoff retries. The
// per-call context (attempt counter, start time, last error) is private to
// one logical call and reset at the start of every Execute; nothing leaks
// across unrelated calls.
type Retry struct {
	config RetryConfig
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
	jitter func() float64 // uniform in [0,1)

	mu   sync.Mutex
	last Attempt
}

// RetryOption configures a Retry.
type RetryOption func(*Retry)

// WithRetryClock overrides the time source (useful for tests).
func WithRetryClock(fn func() time.Time) RetryOption {
	return func(r *Retry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithRetrySleep overrides the delay function. Tests use it to capture
// computed delays without waiting.
func WithRetrySleep(fn func(context.Context, time.Duration) error) RetryOption {
	return func(r *Retry) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// NewRetry constructs a Retry strategy.
func NewRetry(cfg RetryConfig, opts ...RetryOption) *Retry {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if cfg.ExponentialBase <= 1 {
		cfg.ExponentialBase = 2
	}
	r := &Retry{
		config: cfg,
		sleep:  sleepContext,
		now:    time.Now,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RetryableErrors builds a classifier matching any of the given sentinel
// errors with errors.Is.
func RetryableErrors(sentinels ...error) func(error) bool {
	return func(err error) bool {
		for _, s := range sentinels {
			if errors.Is(err, s) {
				return true
			}
		}
		return false
	}
}

// Execute invokes fn, retrying retryable failures on the configured
// schedule. Exhausting the budget returns ErrRetriesExhausted wrapping the
// last underlying error. A context cancellation during a delay aborts the
// wait and returns ctx.Err() without counting as an attempt.
func (r *Retry) Execute(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	start := r.now()
	r.record(Attempt{Attempt: 0, StartTime: start})

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		r.record(Attempt{Attempt: attempt, StartTime: start, LastErr: err})

		if r.config.Retryable != nil && !r.config.Retryable(err) {
			return err
		}
		if attempt >= r.config.MaxRetries {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		if sleepErr := r.sleep(ctx, r.delay(attempt)); sleepErr != nil {
			return sleepErr
		}
		attempt++
		r.record(Attempt{Attempt: attempt, StartTime: start, LastErr: err})
	}
}

// delay computes min(initial * base^attempt, max), optionally perturbed by
// ±25% of the capped value, floored at zero.
func (r *Retry) delay(attempt int) time.Duration {
	base := float64(r.config.InitialDelay) * math.Pow(r.config.ExponentialBase, float64(attempt))
	capped := math.Min(base, float64(r.config.MaxDelay))
	if r.config.Jitter {
		spread := capped * 0.25
		capped += (r.jitter()*2 - 1) * spread
	}
	if capped < 0 {
		capped = 0
	}
	return time.Duration(capped)
}

// Snapshot returns the most recent call's read-only retry context.
func (r *Retry) Snapshot() Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Retry) record(a Attempt) {
	r.mu.Lock()
	r.last = a
	r.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
