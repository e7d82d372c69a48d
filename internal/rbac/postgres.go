package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// PGStore loads the role graph from PostgreSQL. Schema: roles(name,
// description), permissions(name, resource, action), role_permissions
// (role_name, permission_name), role_parents(role_name, parent_name).
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an open database handle; the pool belongs to the caller.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) LoadRoles(ctx context.Context) ([]Role, error) {
	byName := make(map[string]*Role)
	var order []string

	rows, err := s.db.QueryContext(ctx, `select name, description from roles order by name asc`)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.Name, &role.Description); err != nil {
			return nil, err
		}
		byName[role.Name] = &role
		order = append(order, role.Name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	permRows, err := s.db.QueryContext(ctx, `
		select rp.role_name, p.resource, p.action
		from role_permissions rp
		join permissions p on p.name = rp.permission_name`)
	if err != nil {
		return nil, fmt.Errorf("load role permissions: %w", err)
	}
	defer permRows.Close()
	for permRows.Next() {
		var roleName, resource, action string
		if err := permRows.Scan(&roleName, &resource, &action); err != nil {
			return nil, err
		}
		role, ok := byName[roleName]
		if !ok {
			return nil, fmt.Errorf("%w: permission row references role %q", ErrUnknownRole, roleName)
		}
		role.Permissions = append(role.Permissions, resource+":"+action)
	}
	if err := permRows.Err(); err != nil {
		return nil, err
	}

	parentRows, err := s.db.QueryContext(ctx, `select role_name, parent_name from role_parents`)
	if err != nil {
		return nil, fmt.Errorf("load role parents: %w", err)
	}
	defer parentRows.Close()
	for parentRows.Next() {
		var roleName, parentName string
		if err := parentRows.Scan(&roleName, &parentName); err != nil {
			return nil, err
		}
		role, ok := byName[roleName]
		if !ok {
			return nil, fmt.Errorf("%w: hierarchy row references role %q", ErrUnknownRole, roleName)
		}
		role.ParentRoles = append(role.ParentRoles, parentName)
	}
	if err := parentRows.Err(); err != nil {
		return nil, err
	}

	roles := make([]Role, 0, len(order))
	for _, name := range order {
		roles = append(roles, *byName[name])
	}
	return roles, nil
}
