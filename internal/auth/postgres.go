package auth

import (
	"context"
	"database/sql"
	"fmt"

	"sentra.org/internal/ids"
)

var _ UserStore = (*PGStore)(nil)

// PGStore implements UserStore using PostgreSQL. Schema:
// users(id, email unique, password_hash, active, superuser, created_at,
// updated_at) and user_roles(user_id, role_name).
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users(id, email, password_hash, active, superuser)
		values ($1, lower($2), $3, $4, $5)
	`, u.ID, u.Email, u.PasswordHash, u.Active, u.Superuser); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles(user_id, role_name) values ($1, $2)
			on conflict do nothing
		`, u.ID, role); err != nil {
			return fmt.Errorf("insert user role: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create user: %w", err)
	}
	return nil
}

func (s *PGStore) Find(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, `
		select id, email, password_hash, active, superuser, created_at, updated_at
		from users where id = $1
	`, id)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, `
		select id, email, password_hash, active, superuser, created_at, updated_at
		from users where email = lower($1)
	`, email)
}

func (s *PGStore) findOne(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.Superuser, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		select role_name from user_roles where user_id = $1 order by role_name asc
	`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load user roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now() where id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
