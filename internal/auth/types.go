package auth

import (
	"time"

	"sentra.org/internal/rbac"
)

// User is an account as persisted, credentials included. The rbac package
// sees only the access-relevant projection.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	Superuser    bool
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) access() *rbac.User {
	if u == nil {
		return nil
	}
	return &rbac.User{
		ID:        u.ID,
		Email:     u.Email,
		Active:    u.Active,
		Superuser: u.Superuser,
		Roles:     u.Roles,
	}
}

// Principal represents an authenticated user with resolved permissions.
type Principal struct {
	User        *User
	Permissions map[string]struct{}
}

// HasPermission reports whether the principal holds the "resource:action"
// key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}
