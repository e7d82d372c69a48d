// Package password hashes and verifies user credentials.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch is returned when a password does not match its stored hash.
var ErrMismatch = errors.New("password mismatch")

// Hasher abstracts the credential hashing scheme so the login flow can be
// tested without paying bcrypt cost on every case.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) error
}

// Bcrypt is the production Hasher.
type Bcrypt struct {
	Cost int
}

var _ Hasher = Bcrypt{}

func (b Bcrypt) cost() int {
	if b.Cost >= bcrypt.MinCost && b.Cost <= bcrypt.MaxCost {
		return b.Cost
	}
	return bcrypt.DefaultCost
}

// Hash hashes a plaintext password using bcrypt.
func (b Bcrypt) Hash(pw string) (string, error) {
	if len(pw) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext password with its stored hash.
func (b Bcrypt) Verify(hash, pw string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return err
	}
	return nil
}
