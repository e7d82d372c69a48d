// Package auth ties the credential store, token lifecycle, access rules
// and abuse controls into the login and authorization flows.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sentra.org/internal/audit"
	"sentra.org/internal/obs"
	"sentra.org/internal/password"
	"sentra.org/internal/ratelimit"
	"sentra.org/internal/rbac"
	"sentra.org/internal/resilience"
	"sentra.org/internal/token"
)

const (
	defaultAccessTTL = 30 * time.Minute
	defaultResetTTL  = 15 * time.Minute

	loginLimitPrefix = "login:"
	resetLimitPrefix = "reset:"
)

// Session is the result of a successful login.
type Session struct {
	AccessToken string
	Token       token.Token
	User        *User
}

// Service provides login, logout, authorization and password reset.
type Service struct {
	users    UserStore
	tokens   *token.Service
	resolver *rbac.Resolver
	hasher   password.Hasher
	limiter  *ratelimit.Limiter
	breaker  *resilience.Breaker
	retry    *resilience.Retry
	logger   *slog.Logger
	metrics  obs.Sink
	now      func() time.Time

	accessTTL time.Duration
	resetTTL  time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
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

// WithMetrics overrides the metrics sink.
func WithMetrics(sink obs.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.metrics = sink
		}
	}
}

// WithHasher overrides the credential hasher.
func WithHasher(h password.Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithLimiter replaces the per-identity request limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithBreaker replaces the breaker guarding user store calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

// WithRetry replaces the retry policy around user store calls.
func WithRetry(r *resilience.Retry) Option {
	return func(s *Service) {
		if r != nil {
			s.retry = r
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithResetTTL configures password reset token lifetime.
func WithResetTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// NewService wires the authentication flows together. The user store,
// token service and resolver are required; everything else has working
// defaults.
func NewService(users UserStore, tokens *token.Service, resolver *rbac.Resolver, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if resolver == nil {
		return nil, errors.New("auth: rbac resolver is required")
	}
	s := &Service{
		users:     users,
		tokens:    tokens,
		resolver:  resolver,
		hasher:    password.Bcrypt{},
		limiter:   ratelimit.New(ratelimit.Config{MaxRequests: 10, Window: time.Minute}),
		breaker:   resilience.NewBreaker("user-store", resilience.BreakerConfig{}),
		logger:    obs.Logger(),
		metrics:   obs.PromSink{},
		now:       time.Now,
		accessTTL: defaultAccessTTL,
		resetTTL:  defaultResetTTL,
	}
	s.retry = resilience.NewRetry(resilience.RetryConfig{
		MaxRetries:   2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Retryable: func(err error) bool {
			return !errors.Is(err, resilience.ErrCircuitOpen)
		},
	})
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login authenticates credentials and issues an access token scoped to the
// user's effective permissions at login time.
func (s *Service) Login(ctx context.Context, email, pw string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || pw == "" {
		return Session{}, ErrInvalidCredentials
	}

	if allowed, retryAfter := s.limiter.Allow(loginLimitPrefix + email); !allowed {
		s.metrics.Count("login", "rate_limited")
		_ = audit.LogEvent(ctx, "login.rate_limited", map[string]any{"email": email})
		return Session{}, &RateLimitedError{RetryAfter: retryAfter}
	}

	user, err := s.lookupByEmail(ctx, email)
	if err != nil {
		s.metrics.Count("login", "unavailable")
		s.logger.Error("login user lookup failed", "email", email, "err", err)
		return Session{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if user == nil {
		s.metrics.Count("login", "denied")
		_ = audit.LogEvent(ctx, "login.denied", map[string]any{"email": email, "reason": "unknown user"})
		return Session{}, ErrInvalidCredentials
	}
	if !user.Active {
		s.metrics.Count("login", "denied")
		_ = audit.LogEvent(audit.WithActor(ctx, user.ID), "login.denied", map[string]any{"reason": "inactive"})
		return Session{}, ErrInactiveUser
	}
	if err := s.hasher.Verify(user.PasswordHash, pw); err != nil {
		s.metrics.Count("login", "denied")
		_ = audit.LogEvent(audit.WithActor(ctx, user.ID), "login.denied", map[string]any{"reason": "bad password"})
		return Session{}, ErrInvalidCredentials
	}

	scopes := s.resolver.UserPermissions(user.access())
	signed, tok, err := s.tokens.Issue(ctx, user.ID, scopes, s.accessTTL, token.TypeAccess)
	if err != nil {
		s.metrics.Count("login", "error")
		return Session{}, err
	}

	s.metrics.Count("login", "success")
	_ = audit.LogEvent(audit.WithActor(ctx, user.ID), "login.success", map[string]any{"jti": tok.JTI})
	return Session{AccessToken: signed, Token: tok, User: user}, nil
}

// Logout revokes the presented token. Revoking an already revoked token
// succeeds.
func (s *Service) Logout(ctx context.Context, tokenStr string) error {
	claims, err := s.tokens.Parse(tokenStr)
	if err != nil {
		return ErrUnauthorized
	}
	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	_ = audit.LogEvent(audit.WithActor(ctx, claims.Subject), "logout", map[string]any{"jti": claims.ID})
	return nil
}

// Authenticate validates the presented access token end to end and
// resolves the caller's principal with its effective permissions.
func (s *Service) Authenticate(ctx context.Context, tokenStr string) (Principal, error) {
	valid, claims, err := s.tokens.ValidateToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) {
			return Principal{}, ErrUnauthorized
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if !valid {
		_ = audit.LogEvent(audit.WithActor(ctx, claims.Subject), "authn.denied", map[string]any{
			"jti": claims.ID, "reason": "revoked",
		})
		return Principal{}, ErrUnauthorized
	}
	if claims.TokenType != string(token.TypeAccess) {
		return Principal{}, ErrUnauthorized
	}

	user, err := s.lookupByID(ctx, claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if user == nil || !user.Active {
		return Principal{}, ErrUnauthorized
	}

	perms := make(map[string]struct{})
	for _, p := range s.resolver.UserPermissions(user.access()) {
		perms[p] = struct{}{}
	}
	return Principal{User: user, Permissions: perms}, nil
}

// Authorize authenticates and checks the action against the caller's
// current roles, not the scopes frozen into the token.
func (s *Service) Authorize(ctx context.Context, tokenStr, action, resource string) (Principal, error) {
	principal, err := s.Authenticate(ctx, tokenStr)
	if err != nil {
		return Principal{}, err
	}

	if !s.resolver.CheckPermission(principal.User.access(), action, resource) {
		s.metrics.Count("authorize", "denied")
		_ = audit.LogEvent(audit.WithActor(ctx, principal.User.ID), "authz.denied", map[string]any{
			"action": action, "resource": resource,
		})
		return Principal{}, ErrUnauthorized
	}

	s.metrics.Count("authorize", "allowed")
	return principal, nil
}

// BeginPasswordReset issues a short-lived single-use reset token for the
// account.
func (s *Service) BeginPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", ErrNotFound
	}
	if allowed, retryAfter := s.limiter.Allow(resetLimitPrefix + email); !allowed {
		return "", &RateLimitedError{RetryAfter: retryAfter}
	}

	user, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if user == nil {
		return "", ErrNotFound
	}
	if !user.Active {
		return "", ErrInactiveUser
	}

	signed, tok, err := s.tokens.Issue(ctx, user.ID, nil, s.resetTTL, token.TypeReset)
	if err != nil {
		return "", err
	}
	_ = audit.LogEvent(audit.WithActor(ctx, user.ID), "password.reset_requested", map[string]any{"jti": tok.JTI})
	return signed, nil
}

// CompletePasswordReset consumes a reset token and installs the new
// password. The token is revoked on success so it cannot be replayed.
func (s *Service) CompletePasswordReset(ctx context.Context, tokenStr, newPassword string) error {
	valid, claims, err := s.tokens.ValidateToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if !valid || claims.TokenType != string(token.TypeReset) {
		return ErrUnauthorized
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("auth: hash new password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, claims.Subject, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	_ = audit.LogEvent(audit.WithActor(ctx, claims.Subject), "password.reset_completed", map[string]any{"jti": claims.ID})
	return nil
}

// lookupByEmail fetches the user through the retry and breaker guards.
// A missing account is not a store failure: it returns (nil, nil) so it
// neither trips the breaker nor burns retries.
func (s *Service) lookupByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			u, err := s.users.FindByEmail(ctx, email)
			if errors.Is(err, ErrNotFound) {
				user = nil
				return nil
			}
			if err != nil {
				return err
			}
			user = u
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) lookupByID(ctx context.Context, id string) (*User, error) {
	var user *User
	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			u, err := s.users.Find(ctx, id)
			if errors.Is(err, ErrNotFound) {
				user = nil
				return nil
			}
			if err != nil {
				return err
			}
			user = u
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
