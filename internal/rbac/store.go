package rbac

import "context"

// Store loads the role graph from durable storage. The resolver treats
// the graph as read-mostly; reload after administrative changes.
type Store interface {
	LoadRoles(ctx context.Context) ([]Role, error)
}

// DefaultRoles is the built-in three-tier graph used when no durable
// store is configured: admin inherits moderator, moderator inherits user.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        "admin",
			Description: "System administrator",
			Permissions: []string{
				"users:read", "users:write", "users:delete",
				"roles:manage",
				"content:create", "content:edit", "content:delete",
			},
			ParentRoles: []string{"moderator"},
		},
		{
			Name:        "moderator",
			Description: "Content moderator",
			Permissions: []string{
				"users:read", "users:write",
				"content:create", "content:edit",
			},
			ParentRoles: []string{"user"},
		},
		{
			Name:        "user",
			Description: "Standard user",
			Permissions: []string{"users:read", "content:create"},
		},
	}
}

// StaticStore serves a fixed role graph, used for tests and for running
// without a database.
type StaticStore struct {
	Roles []Role
}

func (s StaticStore) LoadRoles(context.Context) ([]Role, error) {
	return s.Roles, nil
}
