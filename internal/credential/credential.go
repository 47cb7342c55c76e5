// Package credential is the credential backend of the directory. Secrets
// are hashed with bcrypt on the way in and never stored or returned in
// plain form.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptySecret = errors.New("secret is empty")
	ErrNotFound    = errors.New("credential not found")
	ErrMismatch    = errors.New("credential does not match")
)

// Hasher hashes secrets with bcrypt at a fixed cost.
type Hasher struct {
	cost      int
	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher. A zero cost selects bcrypt.DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

func (h *Hasher) Hash(secret string) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing secret: %w", err)
	}
	return hash, nil
}

func (h *Hasher) Compare(hash []byte, secret string) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("comparing secret: %w", err)
	}
	return nil
}

// burn spends one comparison's worth of time so a missing credential is
// not distinguishable from a wrong secret by latency.
func (h *Hasher) burn(secret string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("dummy-credential"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(secret))
}

// Backend stores hashes keyed by user id.
type Backend interface {
	PutHash(ctx context.Context, userID int64, hash []byte) error
	GetHash(ctx context.Context, userID int64) ([]byte, error)
	DeleteHash(ctx context.Context, userID int64) error
}

// Store hashes secrets and keeps them in a Backend. It satisfies the
// directory's CredentialStore.
type Store struct {
	hasher  *Hasher
	backend Backend
}

func NewStore(hasher *Hasher, backend Backend) *Store {
	return &Store{hasher: hasher, backend: backend}
}

// SetCredential hashes secret and replaces the user's stored hash.
func (s *Store) SetCredential(ctx context.Context, userID int64, secret string) error {
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return err
	}
	return s.backend.PutHash(ctx, userID, hash)
}

// DeleteCredential removes the user's hash. Removing a missing credential
// is not an error.
func (s *Store) DeleteCredential(ctx context.Context, userID int64) error {
	return s.backend.DeleteHash(ctx, userID)
}

// Verify checks secret against the stored hash. It returns ErrMismatch for
// both a wrong secret and an unknown user.
func (s *Store) Verify(ctx context.Context, userID int64, secret string) error {
	hash, err := s.backend.GetHash(ctx, userID)
	if err != nil {
		s.hasher.burn(secret)
		if errors.Is(err, ErrNotFound) {
			return ErrMismatch
		}
		return err
	}
	return s.hasher.Compare(hash, secret)
}
