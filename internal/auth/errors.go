package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInactiveUser       = errors.New("auth: inactive user")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrServiceUnavailable = errors.New("auth: service unavailable")
	ErrRateLimited        = errors.New("auth: rate limited")
)

// RateLimitedError carries the wait hint alongside the ErrRateLimited
// identity, so callers can both errors.Is-match and surface Retry-After.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
