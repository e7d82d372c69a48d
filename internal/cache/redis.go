package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sentra.org/internal/obs"
)

// Redis is the external tier. Every backend error is logged and reported to
// the metrics sink, then surfaced as a miss or no-op; the external tier is
// never a source of hard failure for callers.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	logger  *slog.Logger
	metrics obs.Sink
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithRedisPrefix namespaces all keys with the given prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRedisLogger overrides the shared logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRedisMetrics sets the metrics sink.
func WithRedisMetrics(sink obs.Sink) RedisOption {
	return func(r *Redis) {
		if sink != nil {
			r.metrics = sink
		}
	}
}

// NewRedis wraps the given client. The client's lifecycle belongs to the
// caller; Clear only touches keys under the configured prefix.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		logger:  obs.Logger(),
		metrics: obs.NopSink{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", err)
		r.metrics.Count("cache_set", "error")
		return
	}
	r.metrics.Count("cache_set", "success")
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("cache get failed", "key", key, "error", err)
			r.metrics.Count("cache_get", "error")
		}
		return "", false
	}
	return value, true
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.logger.Warn("cache delete failed", "key", key, "error", err)
		r.metrics.Count("cache_delete", "error")
	}
}

func (r *Redis) Clear(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("cache clear scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("cache clear failed", "error", err)
	}
}
