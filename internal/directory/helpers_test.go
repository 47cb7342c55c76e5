package directory_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/useradmin/internal/catalog"
	"github.com/valinor-ai/useradmin/internal/directory"
)

var (
	testPermissions = []string{
		"Dashboard", "Accounting", "Sales", "Customers", "Vendors", "Banking",
		"Reports", "Payroll", "Inventory", "Company Settings", "User Management",
	}
	testDepartments = []string{"IT", "Finance", "Sales", "HR", "Operations", "Marketing"}
	superAdmin      = directory.NewRole{
		Name:        "Super Admin",
		Description: "Full access to all features",
		Permissions: []string{catalog.All},
	}
	epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCredentials struct {
	mu        sync.Mutex
	secrets   map[int64]string
	setErr    error
	deleteErr error
	deleted   []int64
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{secrets: make(map[int64]string)}
}

func (f *fakeCredentials) SetCredential(_ context.Context, userID int64, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.secrets[userID] = secret
	return nil
}

func (f *fakeCredentials) DeleteCredential(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.secrets, userID)
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeCredentials) secret(userID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[userID]
	return s, ok
}

// fakePersister records writes and fails any call while err is set.
type fakePersister struct {
	mu    sync.Mutex
	err   error
	users map[int64]directory.User
	roles map[int64]directory.Role
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		users: make(map[int64]directory.User),
		roles: make(map[int64]directory.Role),
	}
}

func (f *fakePersister) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePersister) SaveUser(_ context.Context, u directory.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakePersister) DeleteUser(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.users, id)
	return nil
}

func (f *fakePersister) SaveRole(_ context.Context, r directory.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.roles[r.ID] = r
	return nil
}

func (f *fakePersister) DeleteRole(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.roles, id)
	return nil
}

type countingReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingReloader) ReloadRoles(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *countingReloader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveOperation(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

type fixture struct {
	admin       *directory.Admin
	clock       *testClock
	credentials *fakeCredentials
	persister   *fakePersister
	reloader    *countingReloader
	observer    *recordingObserver
}

func testConfig(t *testing.T) directory.Config {
	t.Helper()
	perms, err := catalog.NewPermissions(testPermissions)
	require.NoError(t, err)
	depts, err := catalog.NewDepartments(testDepartments)
	require.NoError(t, err)
	return directory.Config{
		Permissions: perms,
		Departments: depts,
		SystemRoles: []directory.NewRole{superAdmin},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds a bootstrapped Admin holding only the seeded system role.
func newFixture(t *testing.T, opts ...directory.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:       &testClock{now: epoch},
		credentials: newFakeCredentials(),
		persister:   newFakePersister(),
		reloader:    &countingReloader{},
		observer:    &recordingObserver{},
	}
	base := []directory.Option{
		directory.WithClock(f.clock),
		directory.WithCredentialStore(f.credentials),
		directory.WithPersister(f.persister),
		directory.WithRoleReloader(f.reloader),
		directory.WithObserver(f.observer),
		directory.WithLogger(discardLogger()),
	}
	admin, err := directory.NewAdmin(testConfig(t), append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, admin.Bootstrap(context.Background(), directory.Snapshot{}))
	f.admin = admin
	return f
}

func (f *fixture) createRole(t *testing.T, name string, perms ...string) directory.Role {
	t.Helper()
	role, err := f.admin.CreateRole(context.Background(), directory.NewRole{
		Name:        name,
		Description: name + " role",
		Permissions: perms,
	})
	require.NoError(t, err)
	return role
}

func newUser(username, role string) directory.NewUser {
	return directory.NewUser{
		Username:   username,
		FullName:   "Test " + username,
		Email:      username + "@example.com",
		Role:       role,
		Department: "Finance",
		Password:   "s3cret-" + username,
	}
}

func (f *fixture) createUser(t *testing.T, username, role string) directory.User {
	t.Helper()
	u, err := f.admin.CreateUser(context.Background(), newUser(username, role))
	require.NoError(t, err)
	return u
}

func (f *fixture) userCount(t *testing.T, name string) int {
	t.Helper()
	role, err := f.admin.GetRoleByName(name)
	require.NoError(t, err)
	return role.UserCount
}

var errBackend = errors.New("backend unavailable")

func ptr[T any](v T) *T { return &v }
