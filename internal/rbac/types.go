// Package rbac resolves role-based access decisions over a role graph with
// permission inheritance. The graph is read-mostly; administrative
// mutations invalidate the resolver's memoized permission sets.
package rbac

import "errors"

var (
	// ErrUnknownRole marks a reference to a role that is not in the graph.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrCyclicHierarchy marks a parent_roles cycle. Cycles are a
	// configuration error rejected at load time, never at request time.
	ErrCyclicHierarchy = errors.New("rbac: cyclic role hierarchy")
)

// Permission is a fine-grained capability. Its effective string is
// "resource:action".
type Permission struct {
	Name        string
	Resource    string
	Action      string
	Description string
}

// Key returns the effective permission string.
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// Role groups effective permission strings and optionally inherits every
// permission of its parent roles, transitively.
type Role struct {
	Name        string
	Description string
	Permissions []string
	ParentRoles []string
}

// User is the subject of access decisions. Inactive users are denied
// everything; superusers bypass resource-specific checks.
type User struct {
	ID        string
	Email     string
	Active    bool
	Superuser bool
	Roles     []string
}
