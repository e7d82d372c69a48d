// Package token manages the signed-token lifecycle: issuance, revocation,
// and cache-accelerated validation against a durable revocation store.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates the token failed signature or claim validation.
var ErrInvalidToken = errors.New("token: invalid token")

// Type distinguishes issued token kinds.
type Type string

const (
	TypeAccess Type = "access"
	TypeReset  Type = "reset"
)

// Token is the issued artifact. It is immutable once issued; revocation is
// a separate record, not a mutation or deletion of the token itself.
type Token struct {
	Subject   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JTI       string
	Type      Type
}

// Remaining reports the token's remaining lifetime at the given instant.
func (t Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Claims carries the token in JWT form. The jti registered claim is the
// revocation-lookup key.
type Claims struct {
	Scopes    []string `json:"scopes,omitempty"`
	TokenType string   `json:"type"`
	jwt.RegisteredClaims
}

// Token converts verified claims back into the issued artifact.
func (c *Claims) Token() Token {
	t := Token{
		Subject: c.Subject,
		Scopes:  c.Scopes,
		JTI:     c.ID,
		Type:    Type(c.TokenType),
	}
	if c.IssuedAt != nil {
		t.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt.Time
	}
	return t
}

func dedupeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	var normalized []string
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		normalized = append(normalized, scope)
	}
	return normalized
}
