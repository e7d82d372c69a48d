package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sentra.org/internal/cache"
	"sentra.org/internal/obs"
)

const (
	// validityKeyPrefix namespaces the token validity cache; values code
	// validity as "1" (valid) / "0" (revoked).
	validityKeyPrefix = "token_valid:"

	defaultValidityCacheTTL = time.Hour
	defaultCleanupBatchSize = 1000
)

// RevocationRecord marks a jti as revoked. ExpiresAt is copied from the
// token so the record can be purged once the token would have expired
// anyway. A jti appears at most once.
type RevocationRecord struct {
	JTI       string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// RevocationStore is the durable side of revocation. Insert must be
// idempotent per jti and transactional; DeleteExpired removes at most
// limit records whose expiry has passed and reports how many went.
type RevocationStore interface {
	Insert(ctx context.Context, rec RevocationRecord) error
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

// Service issues, revokes, and validates signed tokens. Validation probes
// the cache before falling back to the revocation store; a store error
// fails closed. Construct once at process start and share by reference.
type Service struct {
	secret  []byte
	issuer  string
	store   RevocationStore
	cache   cache.Cache
	logger  *slog.Logger
	metrics obs.Sink
	now     func() time.Time

	validityTTL time.Duration
	batchSize   int
	cleanupPace *rate.Limiter

	// cleanupMu is acquired non-blocking: overlapping cleanup calls skip
	// instead of queueing, so cleanup runs at most once concurrently.
	cleanupMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger overrides the shared logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink obs.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.metrics = sink
		}
	}
}

// WithValidityCacheTTL bounds how long a validation verdict may be served
// from cache. It is additionally capped by the token's remaining lifetime.
func WithValidityCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.validityTTL = ttl
		}
	}
}

// WithCleanupBatchSize sets how many expired records one delete batch
// covers, bounding transaction size.
func WithCleanupBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithCleanupPace paces cleanup batches to bound store load.
func WithCleanupPace(batchesPerSecond float64) Option {
	return func(s *Service) {
		if batchesPerSecond > 0 {
			s.cleanupPace = rate.NewLimiter(rate.Limit(batchesPerSecond), 1)
		}
	}
}

// NewService constructs the lifecycle manager. The signing secret, the
// revocation store, and the cache are all required.
func NewService(secret []byte, issuer string, store RevocationStore, c cache.Cache, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	if store == nil {
		return nil, errors.New("token: revocation store is required")
	}
	if c == nil {
		return nil, errors.New("token: cache is required")
	}
	s := &Service{
		secret:      secret,
		issuer:      strings.TrimSpace(issuer),
		store:       store,
		cache:       c,
		logger:      obs.Logger(),
		metrics:     obs.NopSink{},
		now:         time.Now,
		validityTTL: defaultValidityCacheTTL,
		batchSize:   defaultCleanupBatchSize,
		cleanupPace: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a fresh token for the subject. The jti is a random 128-bit
// UUID, never reused. Issuance is purely computational: revocation
// tracking is the durable side, so no store write happens here.
func (s *Service) Issue(ctx context.Context, subject string, scopes []string, ttl time.Duration, typ Type) (string, Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", Token{}, errors.New("token: subject is required")
	}
	if ttl <= 0 {
		return "", Token{}, errors.New("token: ttl must be greater than zero")
	}
	if typ != TypeAccess && typ != TypeReset {
		return "", Token{}, fmt.Errorf("token: unsupported type %q", typ)
	}

	now := s.now().UTC()
	issued := Token{
		Subject:   subject,
		Scopes:    dedupeScopes(scopes),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		JTI:       uuid.NewString(),
		Type:      typ,
	}

	claims := Claims{
		Scopes:    issued.Scopes,
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(issued.ExpiresAt),
			ID:        issued.JTI,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.metrics.Count("issue", "error")
		return "", Token{}, fmt.Errorf("sign token: %w", err)
	}
	s.metrics.Count("issue", "success")
	return signed, issued, nil
}

// Parse verifies the token signature and registered claims and returns the
// embedded claims, including the jti needed for revocation checks. It does
// not consult the revocation store; combine with Validate for that.
func (s *Service) Parse(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, options...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return nil, ErrInvalidToken
	}
	switch Type(claims.TokenType) {
	case TypeAccess, TypeReset:
	default:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Revoke durably records the jti as revoked, then best-effort caches the
// verdict with a TTL equal to the remaining token lifetime, so the cache
// entry never outlives what it protects. A store failure propagates; a
// cache failure is logged by the cache and does not fail the revocation.
func (s *Service) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return errors.New("token: jti is required")
	}

	now := s.now().UTC()
	rec := RevocationRecord{JTI: jti, RevokedAt: now, ExpiresAt: expiresAt.UTC()}
	if err := s.store.Insert(ctx, rec); err != nil {
		s.metrics.Count("revoke", "error")
		s.logger.Error("revocation write failed", "jti", jti, "error", err)
		return fmt.Errorf("revoke token: %w", err)
	}

	if remaining := expiresAt.Sub(now); remaining > 0 {
		s.cache.Set(ctx, validityKeyPrefix+jti, "0", remaining)
	}

	s.metrics.Count("revoke", "success")
	s.logger.Info("token revoked", "jti", jti, "expires_at", rec.ExpiresAt)
	return nil
}

// Validate reports whether the jti is still valid, i.e. not revoked. The
// cache is probed first; a miss falls back to the store and the verdict is
// written back with a bounded TTL. A store error fails closed: the token
// is reported invalid alongside the error.
func (s *Service) Validate(ctx context.Context, jti string) (bool, error) {
	return s.validate(ctx, jti, s.validityTTL)
}

// ValidateToken parses the signed token and, when its signature and
// lifetime hold, checks revocation. The cache write-back TTL is capped by
// the token's remaining lifetime.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (bool, *Claims, error) {
	claims, err := s.Parse(tokenStr)
	if err != nil {
		return false, nil, err
	}

	ttl := s.validityTTL
	if remaining := claims.Token().Remaining(s.now().UTC()); remaining < ttl {
		ttl = remaining
	}
	ok, err := s.validate(ctx, claims.ID, ttl)
	return ok, claims, err
}

func (s *Service) validate(ctx context.Context, jti string, cacheTTL time.Duration) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, errors.New("token: jti is required")
	}

	start := s.now()
	defer func() {
		s.metrics.Observe("validate", s.now().Sub(start).Seconds())
	}()

	key := validityKeyPrefix + jti
	if cached, ok := s.cache.Get(ctx, key); ok {
		s.metrics.Count("validate_cache_hit", "success")
		return cached == "1", nil
	}

	revoked, err := s.store.IsRevoked(ctx, jti, s.now().UTC())
	if err != nil {
		// Fail closed: an unreachable store must not let a possibly
		// revoked token through.
		s.metrics.Count("validate", "error")
		s.logger.Error("revocation lookup failed, failing closed", "jti", jti, "error", err)
		return false, fmt.Errorf("validate token: %w", err)
	}

	valid := !revoked
	if cacheTTL > 0 {
		value := "0"
		if valid {
			value = "1"
		}
		s.cache.Set(ctx, key, value, cacheTTL)
	}

	s.metrics.Count("validate", "success")
	return valid, nil
}

// CleanupExpired deletes revocation records whose expiry has passed, in
// fixed-size batches. Overlapping invocations do not duplicate work: the
// guard is acquired non-blocking, and a busy guard means log-and-return.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	if !s.cleanupMu.TryLock() {
		s.logger.Info("revocation cleanup already running, skipping")
		return 0, nil
	}
	defer s.cleanupMu.Unlock()

	var total int64
	for {
		if err := s.cleanupPace.Wait(ctx); err != nil {
			return total, err
		}
		deleted, err := s.store.DeleteExpired(ctx, s.now().UTC(), s.batchSize)
		if err != nil {
			s.metrics.Count("cleanup", "error")
			s.logger.Error("revocation cleanup failed", "deleted", total, "error", err)
			return total, fmt.Errorf("cleanup expired tokens: %w", err)
		}
		total += deleted
		if deleted < int64(s.batchSize) {
			break
		}
	}

	s.metrics.Count("cleanup", "success")
	if total > 0 {
		s.logger.Info("revocation records purged", "deleted", total)
	}
	return total, nil
}
