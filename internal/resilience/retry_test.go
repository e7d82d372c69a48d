package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func captureSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryBackoffSequence(t *testing.T) {
	var delays []time.Duration
	r := NewRetry(
		RetryConfig{
			MaxRetries:      3,
			InitialDelay:    time.Second,
			MaxDelay:        time.Minute,
			ExponentialBase: 2,
		},
		WithRetrySleep(captureSleeps(&delays)),
	)

	err := r.Execute(context.Background(), func(context.Context) error { return errTransient })
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("terminal error must wrap the last underlying error: %v", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("observed %d delays, want %d: %v", len(delays), len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryDelayCappedAtMax(t *testing.T) {
	var delays []time.Duration
	r := NewRetry(
		RetryConfig{
			MaxRetries:      5,
			InitialDelay:    time.Second,
			MaxDelay:        3 * time.Second,
			ExponentialBase: 2,
		},
		WithRetrySleep(captureSleeps(&delays)),
	)

	r.Execute(context.Background(), func(context.Context) error { return errTransient })
	for i, d := range delays {
		if d > 3*time.Second {
			t.Fatalf("delay[%d] = %v exceeds max delay", i, d)
		}
	}
}

func TestRetryJitterWithinBounds(t *testing.T) {
	var delays []time.Duration
	r := NewRetry(
		RetryConfig{
			MaxRetries:      3,
			InitialDelay:    time.Second,
			MaxDelay:        time.Minute,
			ExponentialBase: 2,
			Jitter:          true,
		},
		WithRetrySleep(captureSleeps(&delays)),
	)

	r.Execute(context.Background(), func(context.Context) error { return errTransient })

	base := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, d := range delays {
		lo := time.Duration(float64(base[i]) * 0.75)
		hi := time.Duration(float64(base[i]) * 1.25)
		if d < lo || d > hi {
			t.Fatalf("jittered delay[%d] = %v outside [%v, %v]", i, d, lo, hi)
		}
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	var delays []time.Duration
	r := NewRetry(
		RetryConfig{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2},
		WithRetrySleep(captureSleeps(&delays)),
	)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute = %v, want success on third call", err)
	}
	if calls != 3 || len(delays) != 2 {
		t.Fatalf("calls = %d, delays = %d; want 3 calls with 2 waits", calls, len(delays))
	}
}

func TestRetryNonRetryablePropagatesImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	var delays []time.Duration
	r := NewRetry(
		RetryConfig{
			MaxRetries:      3,
			InitialDelay:    time.Second,
			MaxDelay:        time.Minute,
			ExponentialBase: 2,
			Retryable:       RetryableErrors(errTransient),
		},
		WithRetrySleep(captureSleeps(&delays)),
	)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("non-retryable error must propagate unwrapped, got %v", err)
	}
	if calls != 1 || len(delays) != 0 {
		t.Fatalf("non-retryable error consumed retry slots: calls=%d delays=%d", calls, len(delays))
	}
}

func TestRetryCancelledDuringWait(t *testing.T) {
	r := NewRetry(RetryConfig{
		MaxRetries:      3,
		InitialDelay:    50 * time.Millisecond,
		MaxDelay:        time.Minute,
		ExponentialBase: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Execute(ctx, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("cancelled wait must not lead to further attempts, calls=%d", calls)
	}
}

func TestRetrySnapshotResetsPerCall(t *testing.T) {
	var delays []time.Duration
	r := NewRetry(
		RetryConfig{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2},
		WithRetrySleep(captureSleeps(&delays)),
	)

	r.Execute(context.Background(), func(context.Context) error { return errTransient })
	if snap := r.Snapshot(); snap.Attempt != 2 || snap.LastErr == nil {
		t.Fatalf("snapshot after exhaustion = %+v", snap)
	}

	r.Execute(context.Background(), func(context.Context) error { return nil })
	if snap := r.Snapshot(); snap.Attempt != 0 || snap.LastErr != nil {
		t.Fatalf("state leaked across calls: %+v", snap)
	}
}
