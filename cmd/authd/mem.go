package main

import (
	"context"
	"sync"
	"time"

	"sentra.org/internal/auth"
	"sentra.org/internal/token"
)

// In-memory stores back the service when no database is configured.
// Development use only: nothing survives a restart.

type memRevocations struct {
	mu   sync.Mutex
	recs map[string]token.RevocationRecord
}

func newMemRevocations() *memRevocations {
	return &memRevocations{recs: make(map[string]token.RevocationRecord)}
}

func (m *memRevocations) Insert(_ context.Context, rec token.RevocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.JTI]; !ok {
		m.recs[rec.JTI] = rec
	}
	return nil
}

func (m *memRevocations) IsRevoked(_ context.Context, jti string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jti]
	return ok && rec.ExpiresAt.After(now), nil
}

func (m *memRevocations) DeleteExpired(_ context.Context, now time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for jti, rec := range m.recs {
		if deleted >= int64(limit) {
			break
		}
		if !rec.ExpiresAt.After(now) {
			delete(m.recs, jti)
			deleted++
		}
	}
	return deleted, nil
}

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*auth.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*auth.User)}
}

func (m *memUsers) Create(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}
