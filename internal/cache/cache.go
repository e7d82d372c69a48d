// Package cache provides the shared two-tier cache used across the auth
// core: an in-process TTL map and a Redis-backed external tier behind one
// contract. The cache is explicitly best-effort; backend failures surface
// as misses or no-ops, never as hard errors for callers.
package cache

import (
	"context"
	"time"
)

// Cache is the uniform contract over both tiers. A ttl of zero or less
// means the entry does not expire. Callers own key-naming conventions.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Get(ctx context.Context, key string) (string, bool)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}
