package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentra.org/internal/password"
	"sentra.org/internal/ratelimit"
	"sentra.org/internal/rbac"
	"sentra.org/internal/resilience"
	"sentra.org/internal/token"
)

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[string]*User
	failErr error
	calls   int
}

func newFakeUsers(users ...*User) *fakeUsers {
	f := &fakeUsers{byID: make(map[string]*User)}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.ID] = u
	return nil
}

func (f *fakeUsers) Find(_ context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return nil, f.failErr
	}
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return nil, f.failErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeUsers) UpdatePassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsers) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// plainHasher keeps login tests fast; bcrypt has its own tests.
type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) { return "h:" + pw, nil }

func (plainHasher) Verify(hash, pw string) error {
	if hash != "h:"+pw {
		return password.ErrMismatch
	}
	return nil
}

type revocationMap struct {
	mu   sync.Mutex
	recs map[string]token.RevocationRecord
}

func (m *revocationMap) Insert(_ context.Context, rec token.RevocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]token.RevocationRecord)
	}
	m.recs[rec.JTI] = rec
	return nil
}

func (m *revocationMap) IsRevoked(_ context.Context, jti string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jti]
	return ok && rec.ExpiresAt.After(now), nil
}

func (m *revocationMap) DeleteExpired(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

type authEnv struct {
	svc   *Service
	users *fakeUsers
	now   *time.Time
}

func newAuthEnv(t *testing.T, users *fakeUsers, opts ...Option) *authEnv {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	env := &authEnv{users: users, now: &now}
	clock := func() time.Time { return *env.now }

	tokens, err := token.NewService([]byte("test-secret"), "sentra-test", &revocationMap{}, noValidityCache{},
		token.WithClock(clock))
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}

	resolver := rbac.NewResolver()
	if err := resolver.Load(rbac.DefaultRoles()); err != nil {
		t.Fatalf("resolver.Load: %v", err)
	}

	base := []Option{
		WithClock(clock),
		WithHasher(plainHasher{}),
		WithLimiter(ratelimit.New(ratelimit.Config{MaxRequests: 3, Window: time.Minute}, ratelimit.WithClock(clock))),
		WithBreaker(resilience.NewBreaker("user-store", resilience.BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
		}, resilience.WithBreakerClock(clock))),
		WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Retryable: func(err error) bool {
				return !errors.Is(err, resilience.ErrCircuitOpen)
			},
		}, resilience.WithRetrySleep(func(context.Context, time.Duration) error { return nil }))),
	}
	svc, err := NewService(users, tokens, resolver, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.svc = svc
	return env
}

// noValidityCache forces every validation through the revocation store.
type noValidityCache struct{}

func (noValidityCache) Set(context.Context, string, string, time.Duration) {}
func (noValidityCache) Get(context.Context, string) (string, bool)         { return "", false }
func (noValidityCache) Delete(context.Context, string)                     {}
func (noValidityCache) Clear(context.Context)                              {}

func activeUser() *User {
	return &User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: "h:correct horse",
		Active:       true,
		Roles:        []string{"user"},
	}
}

func TestLoginAndAuthorize(t *testing.T) {
	env := newAuthEnv(t, newFakeUsers(activeUser()))
	ctx := context.Background()

	sess, err := env.svc.Login(ctx, "Alice@Example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.AccessToken == "" || sess.User.ID != "user-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	principal, err := env.svc.Authorize(ctx, sess.AccessToken, "read", "users")
	if err != nil {
		t.Fatalf("Authorize users:read: %v", err)
	}
	if !principal.HasPermission("users:read") {
		t.Fatalf("principal missing users:read: %v", principal.Permissions)
	}

	if _, err := env.svc.Authorize(ctx, sess.AccessToken, "delete", "users"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("users:delete for role user: err = %v, want ErrUnauthorized", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newAuthEnv(t, newFakeUsers(activeUser()))
	if _, err := env.svc.Login(context.Background(), "alice@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginUnknownEmailDoesNotTripBreaker(t *testing.T) {
	users := newFakeUsers()
	env := newAuthEnv(t, users)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Login(ctx, "ghost@example.com", "pw"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("err = %v, want ErrInvalidCredentials", err)
		}
	}
	// Three clean lookups, one store call each: no retries, no breaker.
	if got := users.callCount(); got != 3 {
		t.Fatalf("store calls = %d, want 3", got)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	u := activeUser()
	u.Active = false
	env := newAuthEnv(t, newFakeUsers(u))
	if _, err := env.svc.Login(context.Background(), "alice@example.com", "correct horse"); !errors.Is(err, ErrInactiveUser) {
		t.Fatalf("err = %v, want ErrInactiveUser", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newAuthEnv(t, newFakeUsers(activeUser()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}

	_, err := env.svc.Login(ctx, "alice@example.com", "correct horse")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	var limited *RateLimitedError
	if !errors.As(err, &limited) || limited.RetryAfter != time.Minute {
		t.Fatalf("retry hint = %+v, want 1m", limited)
	}

	// A different account is unaffected.
	if _, err := env.svc.Login(ctx, "bob@example.com", "pw"); errors.Is(err, ErrRateLimited) {
		t.Fatalf("limiter must be per identity")
	}
}

func TestLoginStoreOutageFailsFastOnceOpen(t *testing.T) {
	users := newFakeUsers(activeUser())
	users.failErr = errors.New("connection refused")
	env := newAuthEnv(t, users)
	ctx := context.Background()

	// Retries exhaust against a dead store and the failures open the
	// breaker (threshold 3, MaxRetries 2 means 3 calls).
	if _, err := env.svc.Login(ctx, "alice@example.com", "correct horse"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	before := users.callCount()

	// With the circuit open the store is never touched again.
	if _, err := env.svc.Login(ctx, "alice@example.com", "correct horse"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if got := users.callCount(); got != before {
		t.Fatalf("store calls grew from %d to %d while open", before, got)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newAuthEnv(t, newFakeUsers(activeUser()))
	ctx := context.Background()

	sess, err := env.svc.Login(ctx, "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := env.svc.Logout(ctx, sess.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.svc.Authorize(ctx, sess.AccessToken, "read", "users"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked token authorized: err = %v", err)
	}
	// Logout of an already revoked token still succeeds.
	if err := env.svc.Logout(ctx, sess.AccessToken); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}
}

func TestAuthorizeRejectsGarbage(t *testing.T) {
	env := newAuthEnv(t, newFakeUsers(activeUser()))
	if _, err := env.svc.Authorize(context.Background(), "not-a-jwt", "read", "users"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newAuthEnv(t, newFakeUsers(activeUser()))
	ctx := context.Background()

	resetToken, err := env.svc.BeginPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("BeginPasswordReset: %v", err)
	}

	// A reset token must not authorize API actions.
	if _, err := env.svc.Authorize(ctx, resetToken, "read", "users"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reset token authorized: err = %v", err)
	}

	if err := env.svc.CompletePasswordReset(ctx, resetToken, "new password"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}

	if _, err := env.svc.Login(ctx, "alice@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: err = %v", err)
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "new password"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	// Single use: the consumed token is revoked.
	if err := env.svc.CompletePasswordReset(ctx, resetToken, "another password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reset token replayed: err = %v", err)
	}
}

func TestBeginPasswordResetUnknownEmail(t *testing.T) {
	env := newAuthEnv(t, newFakeUsers())
	if _, err := env.svc.BeginPasswordReset(context.Background(), "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
