package cache

import (
	"context"
	"time"
)

// Tiered layers the in-process tier in front of the external one: reads
// probe memory first and backfill it on an external hit; writes and
// deletes go through to both tiers.
type Tiered struct {
	local  *Memory
	remote Cache

	// localTTL bounds how long a backfilled entry may live in memory,
	// limiting staleness when the external tier is invalidated by
	// another process.
	localTTL time.Duration
}

// NewTiered combines the two tiers. localTTL must be positive; it caps the
// memory lifetime of every entry regardless of the caller-supplied ttl.
func NewTiered(local *Memory, remote Cache, localTTL time.Duration) *Tiered {
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &Tiered{local: local, remote: remote, localTTL: localTTL}
}

func (t *Tiered) boundLocal(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > t.localTTL {
		return t.localTTL
	}
	return ttl
}

func (t *Tiered) Set(ctx context.Context, key, value string, ttl time.Duration) {
	t.local.Set(ctx, key, value, t.boundLocal(ttl))
	t.remote.Set(ctx, key, value, ttl)
}

func (t *Tiered) Get(ctx context.Context, key string) (string, bool) {
	if value, ok := t.local.Get(ctx, key); ok {
		return value, true
	}
	value, ok := t.remote.Get(ctx, key)
	if !ok {
		return "", false
	}
	t.local.Set(ctx, key, value, t.localTTL)
	return value, true
}

func (t *Tiered) Delete(ctx context.Context, key string) {
	t.local.Delete(ctx, key)
	t.remote.Delete(ctx, key)
}

func (t *Tiered) Clear(ctx context.Context) {
	t.local.Clear(ctx)
	t.remote.Clear(ctx)
}
