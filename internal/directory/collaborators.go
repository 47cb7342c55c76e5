package directory

import (
	"context"
	"sync"
	"time"
)

// Clock supplies the current time for expiry computations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// IDGenerator assigns ids to new users and roles. Ids of deleted entities
// must never be handed out again.
type IDGenerator interface {
	NextUserID() int64
	NextRoleID() int64
}

// Sequence is a monotonic in-process IDGenerator with separate counters for
// users and roles.
type Sequence struct {
	mu   sync.Mutex
	user int64
	role int64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

func (s *Sequence) NextUserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user++
	return s.user
}

func (s *Sequence) NextRoleID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role++
	return s.role
}

// Advance moves both counters past already used ids. Counters never move
// backwards.
func (s *Sequence) Advance(lastUserID, lastRoleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = max(s.user, lastUserID)
	s.role = max(s.role, lastRoleID)
}

// CredentialStore is the external credential backend. The directory hands
// secrets over and never keeps them.
type CredentialStore interface {
	SetCredential(ctx context.Context, userID int64, secret string) error
	DeleteCredential(ctx context.Context, userID int64) error
}

// Persister mirrors committed changes to durable storage. Role user counts
// are derived and are not part of what gets persisted.
type Persister interface {
	SaveUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id int64) error
	SaveRole(ctx context.Context, r Role) error
	DeleteRole(ctx context.Context, id int64) error
}

// RoleReloader is notified after role mutations so permission caches can
// refresh.
type RoleReloader interface {
	ReloadRoles(ctx context.Context) error
}

// NopPersister keeps all state in memory only.
type NopPersister struct{}

func (NopPersister) SaveUser(context.Context, User) error    { return nil }
func (NopPersister) DeleteUser(context.Context, int64) error { return nil }
func (NopPersister) SaveRole(context.Context, Role) error    { return nil }
func (NopPersister) DeleteRole(context.Context, int64) error { return nil }
