package rbac

import (
	"fmt"
	"sort"
	"sync"
)

// Resolver answers "does role R have permission P" and "what permissions
// does user U have" over a validated role graph. Resolved permission sets
// are memoized per role name and invalidated on every mutation; the memo
// is keyed on role names only, never on sessions or connections.
type Resolver struct {
	mu    sync.RWMutex
	roles map[string]Role
	memo  map[string]map[string]struct{}
}

// NewResolver returns an empty resolver; call Load before use.
func NewResolver() *Resolver {
	return &Resolver{
		roles: make(map[string]Role),
		memo:  make(map[string]map[string]struct{}),
	}
}

// Load replaces the role graph after validating it: every referenced
// parent must exist and the hierarchy must be acyclic. A failed Load
// leaves the previous graph untouched.
func (r *Resolver) Load(roles []Role) error {
	graph := make(map[string]Role, len(roles))
	for _, role := range roles {
		if role.Name == "" {
			return fmt.Errorf("%w: empty role name", ErrUnknownRole)
		}
		graph[role.Name] = role
	}
	if err := validateGraph(graph); err != nil {
		return err
	}

	r.mu.Lock()
	r.roles = graph
	r.memo = make(map[string]map[string]struct{})
	r.mu.Unlock()
	return nil
}

// UpsertRole adds or replaces one role, revalidating the resulting graph
// and invalidating memoized permission sets.
func (r *Resolver) UpsertRole(role Role) error {
	if role.Name == "" {
		return fmt.Errorf("%w: empty role name", ErrUnknownRole)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	graph := make(map[string]Role, len(r.roles)+1)
	for name, existing := range r.roles {
		graph[name] = existing
	}
	graph[role.Name] = role
	if err := validateGraph(graph); err != nil {
		return err
	}
	r.roles = graph
	r.memo = make(map[string]map[string]struct{})
	return nil
}

func validateGraph(graph map[string]Role) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(graph))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: involving role %q", ErrCyclicHierarchy, name)
		}
		state[name] = visiting
		for _, parent := range graph[name].ParentRoles {
			if _, ok := graph[parent]; !ok {
				return fmt.Errorf("%w: role %q references missing parent %q", ErrUnknownRole, name, parent)
			}
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for name := range graph {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// RoleExists reports whether the named role is in the graph.
func (r *Resolver) RoleExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

// RolePermissions returns the role's direct permissions unioned with those
// of every role reachable via parent_roles, sorted. Unknown roles resolve
// to an empty set.
func (r *Resolver) RolePermissions(name string) []string {
	r.mu.RLock()
	set, memoized := r.memo[name]
	r.mu.RUnlock()

	if !memoized {
		r.mu.Lock()
		set = r.resolveLocked(name)
		r.memo[name] = set
		r.mu.Unlock()
	}

	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// resolveLocked computes the transitive permission set. Load guarantees
// the graph is acyclic, so the walk terminates. Caller holds r.mu.
func (r *Resolver) resolveLocked(name string) map[string]struct{} {
	if set, ok := r.memo[name]; ok {
		return set
	}
	role, ok := r.roles[name]
	if !ok {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(role.Permissions))
	for _, p := range role.Permissions {
		set[p] = struct{}{}
	}
	for _, parent := range role.ParentRoles {
		for p := range r.resolveLocked(parent) {
			set[p] = struct{}{}
		}
	}
	r.memo[name] = set
	return set
}

// HasPermission reports whether the role resolves the given effective
// permission string.
func (r *Resolver) HasPermission(role, permission string) bool {
	for _, p := range r.RolePermissions(role) {
		if p == permission {
			return true
		}
	}
	return false
}

// UserPermissions returns the union over all of the user's assigned roles.
func (r *Resolver) UserPermissions(user *User) []string {
	set := make(map[string]struct{})
	for _, role := range user.Roles {
		for _, p := range r.RolePermissions(role) {
			set[p] = struct{}{}
		}
	}
	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// CheckPermission decides whether the user may perform action on resource.
// Inactive users are denied everything before any permission lookup;
// superusers bypass resource-specific checks. Reading one's own profile is
// a fixed special case independent of the permission graph, not a
// generalizable rule.
func (r *Resolver) CheckPermission(user *User, action, resource string) bool {
	if user == nil || !user.Active {
		return false
	}
	if user.Superuser {
		return true
	}
	if resource == "own_profile" && action == "read" {
		return true
	}
	required := resource + ":" + action
	for _, role := range user.Roles {
		if r.HasPermission(role, required) {
			return true
		}
	}
	return false
}

// AssignRole adds the named role to the user's assignment. It reports
// false, without mutating the user, when the role does not exist.
func (r *Resolver) AssignRole(user *User, roleName string) bool {
	if user == nil || !r.RoleExists(roleName) {
		return false
	}
	for _, existing := range user.Roles {
		if existing == roleName {
			return true
		}
	}
	user.Roles = append(user.Roles, roleName)
	return true
}
