package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemory(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Minute)
	if got, ok := m.Get(ctx, "k"); !ok || got != "v" {
		t.Fatalf("Get = %q, %v; want v, true", got, ok)
	}

	now = now.Add(time.Minute + time.Second)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to read as absent")
	}
	if m.Len() != 0 {
		t.Fatalf("expected lazy eviction on read, len=%d", m.Len())
	}
}

func TestMemoryNoTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemory(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	m.Set(ctx, "k", "v", 0)
	now = now.Add(24 * time.Hour)
	if got, ok := m.Get(ctx, "k"); !ok || got != "v" {
		t.Fatalf("entry without TTL should not expire, got %q, %v", got, ok)
	}
}

func TestMemoryCleanupExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemory(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	m.Set(ctx, "a", "1", time.Second)
	m.Set(ctx, "b", "2", time.Hour)
	now = now.Add(2 * time.Second)

	if removed := m.CleanupExpired(); removed != 1 {
		t.Fatalf("CleanupExpired removed %d, want 1", removed)
	}
	if _, ok := m.Get(ctx, "b"); !ok {
		t.Fatalf("live entry must survive cleanup")
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Set(ctx, "a", "1", 0)
	m.Set(ctx, "b", "2", 0)
	m.Delete(ctx, "a")
	if _, ok := m.Get(ctx, "a"); ok {
		t.Fatalf("deleted key still present")
	}
	m.Clear(ctx)
	if _, ok := m.Get(ctx, "b"); ok {
		t.Fatalf("cleared key still present")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, NewRedis(client, WithRedisPrefix("sentra:"))
}

func TestRedisRoundTrip(t *testing.T) {
	srv, c := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	if got, ok := c.Get(ctx, "k"); !ok || got != "v" {
		t.Fatalf("Get = %q, %v; want v, true", got, ok)
	}

	srv.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry after TTL")
	}
}

func TestRedisDegradesToMiss(t *testing.T) {
	srv, c := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", "v", 0)
	srv.Close()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("backend failure must read as a miss")
	}
	// Writes against the dead backend must not panic or propagate.
	c.Set(ctx, "k2", "v2", time.Minute)
	c.Delete(ctx, "k")
}

func TestRedisClearOnlyPrefix(t *testing.T) {
	srv, c := newTestRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", "v", 0)
	srv.Set("other:key", "keep")

	c.Clear(ctx)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("prefixed key should be cleared")
	}
	if got, err := srv.Get("other:key"); err != nil || got != "keep" {
		t.Fatalf("foreign key was touched: %q, %v", got, err)
	}
}

func TestTieredBackfill(t *testing.T) {
	_, remote := newTestRedis(t)
	local := NewMemory()
	tiered := NewTiered(local, remote, time.Minute)
	ctx := context.Background()

	// Populate only the remote tier, as another process would.
	remote.Set(ctx, "k", "v", time.Hour)

	if got, ok := tiered.Get(ctx, "k"); !ok || got != "v" {
		t.Fatalf("Get = %q, %v; want remote value", got, ok)
	}
	if got, ok := local.Get(ctx, "k"); !ok || got != "v" {
		t.Fatalf("expected local backfill, got %q, %v", got, ok)
	}
}

func TestTieredDeleteBothTiers(t *testing.T) {
	_, remote := newTestRedis(t)
	local := NewMemory()
	tiered := NewTiered(local, remote, time.Minute)
	ctx := context.Background()

	tiered.Set(ctx, "k", "v", time.Hour)
	tiered.Delete(ctx, "k")

	if _, ok := local.Get(ctx, "k"); ok {
		t.Fatalf("local tier still has deleted key")
	}
	if _, ok := remote.Get(ctx, "k"); ok {
		t.Fatalf("remote tier still has deleted key")
	}
}
