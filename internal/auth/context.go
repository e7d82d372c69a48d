package auth

import "context"

type ctxKey int

const (
	principalKey ctxKey = iota
	bearerKey
)

// ContextWithPrincipal attaches the authenticated principal so handlers
// downstream of the authentication middleware can read it back.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext returns the principal attached during authentication.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}

// ContextWithToken stores the raw bearer token for flows that act on the
// credential itself, such as logout.
func ContextWithToken(ctx context.Context, raw string) context.Context {
	if raw == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerKey, raw)
}

// TokenFromContext returns the bearer token attached during authentication.
func TokenFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(bearerKey).(string)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
