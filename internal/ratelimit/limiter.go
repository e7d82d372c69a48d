// Package ratelimit implements a per-key sliding-window rate limiter. The
// window is recomputed exactly on every check, trading memory (timestamp
// lists per key, pruned incrementally) for precision.
package ratelimit

import (
	"sync"
	"time"

	"sentra.org/internal/obs"
)

// Config holds the admission policy.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
	// dead marks a window discarded by PruneIdle; a concurrent Allow
	// that already holds the pointer must not record into it.
	dead bool
}

// Limiter decides admission of an action per key. Each key's timestamp
// list is mutated under its own lock so concurrent bursts from the same
// key lose no increments.
type Limiter struct {
	config  Config
	now     func() time.Time
	metrics obs.Sink

	mu      sync.Mutex
	windows map[string]*window
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink obs.Sink) Option {
	return func(l *Limiter) {
		if sink != nil {
			l.metrics = sink
		}
	}
}

// New constructs a Limiter with the given policy.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		config:  cfg,
		now:     time.Now,
		metrics: obs.NopSink{},
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether the action identified by key is admitted. When
// denied, retryAfter carries the window length as the retry hint.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	w := l.liveWindow(key)
	defer w.mu.Unlock()

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= l.config.MaxRequests {
		l.metrics.Count("ratelimit", "denied")
		return false, l.config.Window
	}

	w.stamps = append(w.stamps, now)
	l.metrics.Count("ratelimit", "allowed")
	return true, 0
}

// liveWindow returns the window for key with its lock held. The lookup
// restarts when PruneIdle discarded the window between map read and lock
// acquisition, so no timestamp lands in an orphaned window.
func (l *Limiter) liveWindow(key string) *window {
	for {
		l.mu.Lock()
		w, ok := l.windows[key]
		if !ok {
			w = &window{}
			l.windows[key] = w
		}
		l.mu.Unlock()

		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// PruneIdle drops keys whose windows hold no live timestamps, bounding
// memory for keys that went quiet.
func (l *Limiter) PruneIdle() int {
	cutoff := l.now().Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		live := false
		for _, ts := range w.stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			w.dead = true
			delete(l.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}
