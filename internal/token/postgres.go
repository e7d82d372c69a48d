package token

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGStore implements RevocationStore over PostgreSQL. Schema:
// revoked_tokens(id, jti unique, revoked_at, expires_at) with an index on
// (jti, expires_at) serving the "revoked and still relevant" lookup.
type PGStore struct {
	db *sql.DB
}

var _ RevocationStore = (*PGStore)(nil)

// NewPGStore wraps an open database handle; the pool belongs to the caller.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Insert writes the revocation record inside a transaction. Re-revoking a
// jti is an idempotent success; the first record wins and its timestamps
// stand.
func (s *PGStore) Insert(ctx context.Context, rec RevocationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revoke tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into revoked_tokens(jti, revoked_at, expires_at)
		values ($1, $2, $3)
		on conflict (jti) do nothing
	`, rec.JTI, rec.RevokedAt, rec.ExpiresAt); err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revocation: %w", err)
	}
	return nil
}

// IsRevoked reports whether a matching, non-expired revocation record
// exists for the jti.
func (s *PGStore) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from revoked_tokens
			where jti = $1 and expires_at > $2
		)
	`, jti, now).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return revoked, nil
}

// DeleteExpired removes at most limit records whose expiry has passed,
// inside one bounded transaction.
func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		delete from revoked_tokens
		where id in (
			select id from revoked_tokens
			where expires_at <= $1
			limit $2
		)
	`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return deleted, nil
}
