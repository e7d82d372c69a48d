package httpapi

import (
	"errors"
	"net/http"

	"sentra.org/internal/audit"
	"sentra.org/internal/auth"
)

// publicPaths are served without a bearer token. Everything else goes
// through withAuth first.
var publicPaths = map[string]struct{}{
	"/":                               {},
	"/healthz":                        {},
	"/readyz":                         {},
	"/metrics":                        {},
	"/v1/info":                        {},
	"/v1/auth/login":                  {},
	"/v1/auth/password-reset":         {},
	"/v1/auth/password-reset/confirm": {},
}

// withAuth authenticates the bearer token on protected routes and
// attaches the resulting principal, the raw token, and the audit actor
// to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUnauthorized):
				writeError(w, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrServiceUnavailable):
				writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, raw)
		ctx = audit.WithActor(ctx, principal.User.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
