package token

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rec := RevocationRecord{JTI: "jti-1", RevokedAt: now, ExpiresAt: now.Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectExec("insert into revoked_tokens").
		WithArgs(rec.JTI, rec.RevokedAt, rec.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreInsertRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("insert into revoked_tokens").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	store := NewPGStore(db)
	rec := RevocationRecord{JTI: "jti-1", RevokedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Insert(context.Background(), rec); err == nil {
		t.Fatalf("Insert should surface the exec error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreIsRevoked(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select exists").
		WithArgs("jti-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("select exists").
		WithArgs("jti-2", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	store := NewPGStore(db)
	revoked, err := store.IsRevoked(context.Background(), "jti-1", now)
	if err != nil || !revoked {
		t.Fatalf("IsRevoked(jti-1) = %v, %v; want revoked", revoked, err)
	}
	revoked, err = store.IsRevoked(context.Background(), "jti-2", now)
	if err != nil || revoked {
		t.Fatalf("IsRevoked(jti-2) = %v, %v; want not revoked", revoked, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("delete from revoked_tokens").
		WithArgs(now, 1000).
		WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectCommit()

	store := NewPGStore(db)
	deleted, err := store.DeleteExpired(context.Background(), now, 1000)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if deleted != 1000 {
		t.Fatalf("deleted = %d, want 1000", deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
