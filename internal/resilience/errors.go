package resilience

import "errors"

var (
	// ErrCircuitOpen is returned by Breaker.Execute when the admission
	// check denies the call. The guarded callable is never invoked.
	ErrCircuitOpen = errors.New("resilience: circuit open")

	// ErrRetriesExhausted terminates a retried call once the attempt
	// budget is spent. It wraps the last underlying error so callers can
	// still inspect the cause with errors.Is/As.
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")
)
