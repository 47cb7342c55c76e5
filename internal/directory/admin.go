package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/valinor-ai/useradmin/internal/catalog"
)

const (
	DefaultPasswordExpiry       = 90 * 24 * time.Hour
	DefaultRenewalThresholdDays = 7
)

// Config is the deployment-specific part of the directory.
type Config struct {
	Permissions          *catalog.Permissions
	Departments          *catalog.Departments
	PasswordExpiry       time.Duration
	RenewalThresholdDays int
	SystemRoles          []NewRole
}

// Observer receives the outcome of every mutating operation.
type Observer interface {
	ObserveOperation(op string, err error)
}

// Snapshot is the persisted state used to rebuild the directory.
type Snapshot struct {
	Roles []Role
	Users []User
}

// Option configures the Admin.
type Option func(*Admin)

func WithClock(c Clock) Option {
	return func(a *Admin) { a.clock = c }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(a *Admin) { a.ids = g }
}

func WithPersister(p Persister) Option {
	return func(a *Admin) { a.persister = p }
}

func WithCredentialStore(s CredentialStore) Option {
	return func(a *Admin) { a.credentials = s }
}

// WithRoleReloader registers a cache to refresh after role mutations.
func WithRoleReloader(r RoleReloader) Option {
	return func(a *Admin) { a.reloader = r }
}

func WithObserver(o Observer) Option {
	return func(a *Admin) { a.observer = o }
}

// WithHaltFunc sets what happens when a commit finds a broken invariant.
// The process entry point passes a func that exits, since a panic inside an
// HTTP handler is recovered by net/http and would keep serving.
func WithHaltFunc(halt func(error)) Option {
	return func(a *Admin) { a.halt = halt }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Admin) { a.logger = l }
}

// Admin coordinates the role registry and the user directory behind a
// single lock so cross-entity invariants hold for concurrent callers.
// Mutations validate first, then call collaborators, then commit; nothing
// is applied when any step before the commit fails.
type Admin struct {
	mu    sync.RWMutex
	roles *RoleRegistry
	users *UserDirectory

	permissions    *catalog.Permissions
	departments    *catalog.Departments
	passwordExpiry time.Duration
	renewalDays    int
	systemRoles    []NewRole

	clock       Clock
	ids         IDGenerator
	persister   Persister
	credentials CredentialStore
	reloader    RoleReloader
	observer    Observer
	logger      *slog.Logger
	halt        func(error)
}

// NewAdmin creates an empty directory. Call Bootstrap before serving.
func NewAdmin(cfg Config, opts ...Option) (*Admin, error) {
	if cfg.Permissions == nil || cfg.Departments == nil {
		return nil, errors.New("permission and department catalogs are required")
	}
	if cfg.PasswordExpiry <= 0 {
		cfg.PasswordExpiry = DefaultPasswordExpiry
	}
	if cfg.RenewalThresholdDays <= 0 {
		cfg.RenewalThresholdDays = DefaultRenewalThresholdDays
	}

	roles := NewRoleRegistry(cfg.Permissions)
	a := &Admin{
		roles:          roles,
		users:          NewUserDirectory(roles, cfg.Departments),
		permissions:    cfg.Permissions,
		departments:    cfg.Departments,
		passwordExpiry: cfg.PasswordExpiry,
		renewalDays:    cfg.RenewalThresholdDays,
		systemRoles:    cfg.SystemRoles,
		clock:          SystemClock,
		ids:            NewSequence(),
		persister:      NopPersister{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Bootstrap replaces the in-memory state with snap, recomputing every
// role's user count, and then seeds any configured system role that is
// missing.
func (a *Admin) Bootstrap(ctx context.Context, snap Snapshot) error {
	if err := a.bootstrap(ctx, snap); err != nil {
		return err
	}
	a.logger.Info("directory ready", "roles", len(snap.Roles), "users", len(snap.Users))
	a.notifyReload(ctx)
	return nil
}

func (a *Admin) bootstrap(ctx context.Context, snap Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Build into fresh registries; the live ones are replaced only once the
	// whole snapshot and every system role are in place.
	roles := NewRoleRegistry(a.permissions)
	users := NewUserDirectory(roles, a.departments)

	var lastRole, lastUser int64
	for _, r := range snap.Roles {
		if err := roles.restore(r); err != nil {
			return err
		}
		lastRole = max(lastRole, r.ID)
	}
	for _, u := range snap.Users {
		if err := users.restore(u); err != nil {
			return err
		}
		lastUser = max(lastUser, u.ID)
	}
	if adv, ok := a.ids.(interface{ Advance(user, role int64) }); ok {
		adv.Advance(lastUser, lastRole)
	}

	for _, in := range a.systemRoles {
		if _, err := roles.GetByName(in.Name); err == nil {
			continue
		}
		role, err := roles.AddSystemRole(a.ids.NextRoleID(), in, a.clock.Now())
		if err != nil {
			return fmt.Errorf("seeding system role %s: %w", in.Name, err)
		}
		if err := a.persister.SaveRole(ctx, role); err != nil {
			return collaboratorErr("persistence", "save role", err)
		}
		a.logger.Info("system role seeded", "role", role.Name, "role_id", role.ID)
	}

	a.roles = roles
	a.users = users
	return nil
}

// Permissions returns the assignable capability tags in catalog order.
func (a *Admin) Permissions() []string {
	return a.permissions.List()
}

// Departments returns the configured organizational units.
func (a *Admin) Departments() []string {
	return a.departments.List()
}

// RenewalThresholdDays is the configured password renewal alert window.
func (a *Admin) RenewalThresholdDays() int {
	return a.renewalDays
}

// Now returns the directory clock's current time.
func (a *Admin) Now() time.Time {
	return a.clock.Now()
}

// CreateRole adds a custom role.
func (a *Admin) CreateRole(ctx context.Context, in NewRole) (role Role, err error) {
	defer func() { a.observe("create_role", err) }()
	if err := ctx.Err(); err != nil {
		return Role{}, err
	}

	role, err = a.createRole(ctx, in)
	if err != nil {
		return Role{}, err
	}
	a.logger.Debug("role created", "role_id", role.ID, "role", role.Name)
	a.notifyReload(ctx)
	return role, nil
}

func (a *Admin) createRole(ctx context.Context, in NewRole) (Role, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	perms, err := a.roles.ValidateCreate(in)
	if err != nil {
		return Role{}, err
	}
	now := a.clock.Now()
	id := a.ids.NextRoleID()
	candidate := Role{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Permissions: perms,
		CreatedAt:   now,
	}
	if err := a.persister.SaveRole(ctx, candidate); err != nil {
		return Role{}, a.collaboratorFailure("persistence", "save role", err)
	}
	role, err := a.roles.Create(id, in, now)
	a.mustCommit(err)
	return role, nil
}

// UpdateRolePermissions replaces a role's permission set.
func (a *Admin) UpdateRolePermissions(ctx context.Context, id int64, permissions []string) (role Role, err error) {
	defer func() { a.observe("update_role_permissions", err) }()
	if err := ctx.Err(); err != nil {
		return Role{}, err
	}

	role, err = a.updateRolePermissions(ctx, id, permissions)
	if err != nil {
		return Role{}, err
	}
	a.logger.Debug("role permissions updated", "role_id", id, "permissions", len(role.Permissions))
	a.notifyReload(ctx)
	return role, nil
}

func (a *Admin) updateRolePermissions(ctx context.Context, id int64, permissions []string) (Role, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	perms, err := a.roles.ValidateUpdatePermissions(id, permissions)
	if err != nil {
		return Role{}, err
	}
	candidate, _ := a.roles.Get(id)
	candidate.Permissions = perms
	if err := a.persister.SaveRole(ctx, candidate); err != nil {
		return Role{}, a.collaboratorFailure("persistence", "save role", err)
	}
	role, err := a.roles.UpdatePermissions(id, permissions)
	a.mustCommit(err)
	return role, nil
}

// PreviewDeleteRole reports whether a role can be deleted and which users
// block it. Nothing is changed.
func (a *Admin) PreviewDeleteRole(id int64) (RoleDeletionPreview, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	role, err := a.roles.Get(id)
	if err != nil {
		return RoleDeletionPreview{}, err
	}
	preview := RoleDeletionPreview{
		Role:          role,
		AffectedUsers: a.users.ListByRole(role.Name),
		Deletable:     true,
	}
	if _, err := a.roles.ValidateDelete(id); err != nil {
		preview.Deletable = false
		preview.Reason = err.Error()
	}
	return preview, nil
}

// DeleteRole removes a role that no user references. Users are never
// reassigned implicitly.
func (a *Admin) DeleteRole(ctx context.Context, id int64) (err error) {
	defer func() { a.observe("delete_role", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	role, err := a.deleteRole(ctx, id)
	if err != nil {
		return err
	}
	a.logger.Debug("role deleted", "role_id", id, "role", role.Name)
	a.notifyReload(ctx)
	return nil
}

func (a *Admin) deleteRole(ctx context.Context, id int64) (Role, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	role, err := a.roles.ValidateDelete(id)
	if err != nil {
		return Role{}, err
	}
	if err := a.persister.DeleteRole(ctx, id); err != nil {
		return Role{}, a.collaboratorFailure("persistence", "delete role", err)
	}
	a.mustCommit(a.roles.Delete(id))
	return role, nil
}

// GetRole returns a role by id.
func (a *Admin) GetRole(id int64) (Role, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles.Get(id)
}

// GetRoleByName returns a role by exact name.
func (a *Admin) GetRoleByName(name string) (Role, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles.GetByName(name)
}

// ListRoles returns all roles ordered by id.
func (a *Admin) ListRoles() []Role {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles.List()
}

// PreviewCreateUser validates a creation request without applying it.
func (a *Admin) PreviewCreateUser(in NewUser) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, err := a.users.ValidateCreate(in)
	return err
}

// CreateUser adds an account, hands the initial password to the
// credential store and counts the role reference.
func (a *Admin) CreateUser(ctx context.Context, in NewUser) (user User, err error) {
	defer func() { a.observe("create_user", err) }()
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.users.ValidateCreate(in); err != nil {
		return User{}, err
	}
	if a.credentials == nil {
		return User{}, a.collaboratorFailure("credentials", "set credential", errors.New("credential store not configured"))
	}

	now := a.clock.Now()
	id := a.ids.NextUserID()
	if err := a.credentials.SetCredential(ctx, id, in.Password); err != nil {
		return User{}, a.collaboratorFailure("credentials", "set credential", err)
	}
	candidate := newUserRecord(id, in, now, a.passwordExpiry)
	if err := a.persister.SaveUser(ctx, candidate); err != nil {
		a.revokeCredential(ctx, id)
		return User{}, a.collaboratorFailure("persistence", "save user", err)
	}
	user, err = a.users.Create(id, in, now, a.passwordExpiry)
	a.mustCommit(err)

	a.logger.Debug("user created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// UpdateUser applies a partial update. A role change moves the user
// between role counts in the same critical section.
func (a *Admin) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (user User, err error) {
	defer func() { a.observe("update_user", err) }()
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	candidate, err := a.users.ValidateUpdate(id, upd)
	if err != nil {
		return User{}, err
	}
	if err := a.persister.SaveUser(ctx, candidate); err != nil {
		return User{}, a.collaboratorFailure("persistence", "save user", err)
	}
	user, err = a.users.Update(id, upd)
	a.mustCommit(err)

	a.logger.Debug("user updated", "user_id", id)
	return user, nil
}

// PreviewDeleteUser returns the user and the role whose count would drop.
func (a *Admin) PreviewDeleteUser(id int64) (UserDeletionPreview, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	u, role, err := a.users.ValidateDelete(id)
	if err != nil {
		return UserDeletionPreview{}, err
	}
	return UserDeletionPreview{User: u, Role: role}, nil
}

// DeleteUser removes an account and releases its role reference.
func (a *Admin) DeleteUser(ctx context.Context, id int64) (err error) {
	defer func() { a.observe("delete_user", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, _, err := a.users.ValidateDelete(id); err != nil {
		return err
	}
	if err := a.persister.DeleteUser(ctx, id); err != nil {
		return a.collaboratorFailure("persistence", "delete user", err)
	}
	a.mustCommit(a.users.Delete(id))
	a.revokeCredential(ctx, id)

	a.logger.Debug("user deleted", "user_id", id)
	return nil
}

// SetStatus changes an account's status.
func (a *Admin) SetStatus(ctx context.Context, id int64, status Status) (User, error) {
	return a.mutateUser(ctx, "set_status", id, func(u *User) error {
		if !status.Valid() {
			return validationErr("status %q is not recognized", status)
		}
		u.Status = status
		return nil
	}, func(u User) (User, error) {
		return a.users.SetStatus(id, u.Status)
	})
}

// ToggleStatus flips Active and Inactive.
func (a *Admin) ToggleStatus(ctx context.Context, id int64) (User, error) {
	return a.mutateUser(ctx, "toggle_status", id, func(u *User) error {
		u.Status = u.Status.Toggled()
		return nil
	}, func(u User) (User, error) {
		return a.users.SetStatus(id, u.Status)
	})
}

// SetTwoFactor sets the multi-factor flag.
func (a *Admin) SetTwoFactor(ctx context.Context, id int64, enabled bool) (User, error) {
	return a.mutateUser(ctx, "set_two_factor", id, func(u *User) error {
		u.TwoFactorEnabled = enabled
		return nil
	}, func(u User) (User, error) {
		return a.users.SetTwoFactor(id, u.TwoFactorEnabled)
	})
}

// ToggleTwoFactor flips the multi-factor flag.
func (a *Admin) ToggleTwoFactor(ctx context.Context, id int64) (User, error) {
	return a.mutateUser(ctx, "toggle_two_factor", id, func(u *User) error {
		u.TwoFactorEnabled = !u.TwoFactorEnabled
		return nil
	}, func(u User) (User, error) {
		return a.users.SetTwoFactor(id, u.TwoFactorEnabled)
	})
}

// RecordLogin is called by the authentication collaborator after a
// successful sign-in. The admin surface never calls it.
func (a *Admin) RecordLogin(ctx context.Context, id int64, at time.Time) (User, error) {
	return a.mutateUser(ctx, "record_login", id, func(u *User) error {
		u.LastLogin = &at
		u.LoginCount++
		return nil
	}, func(User) (User, error) {
		return a.users.recordLogin(id, at)
	})
}

// mutateUser runs a single-field change: apply edits a copy, which is
// persisted before commit writes it to the directory.
func (a *Admin) mutateUser(ctx context.Context, op string, id int64, apply func(*User) error, commit func(User) (User, error)) (user User, err error) {
	defer func() { a.observe(op, err) }()
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	candidate, err := a.users.Get(id)
	if err != nil {
		return User{}, err
	}
	if err := apply(&candidate); err != nil {
		return User{}, err
	}
	if err := a.persister.SaveUser(ctx, candidate); err != nil {
		return User{}, a.collaboratorFailure("persistence", "save user", err)
	}
	user, err = commit(candidate)
	a.mustCommit(err)

	a.logger.Debug("user changed", "op", op, "user_id", id)
	return user, nil
}

// ResetCredential hands a new secret to the credential store. The secret is
// neither stored nor logged here.
func (a *Admin) ResetCredential(ctx context.Context, id int64, secret string) (reset CredentialReset, err error) {
	defer func() { a.observe("reset_credential", err) }()
	if err := ctx.Err(); err != nil {
		return CredentialReset{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.users.Get(id); err != nil {
		return CredentialReset{}, err
	}
	if strings.TrimSpace(secret) == "" {
		return CredentialReset{}, validationErr("new credential is required")
	}
	if a.credentials == nil {
		return CredentialReset{}, a.collaboratorFailure("credentials", "set credential", errors.New("credential store not configured"))
	}
	if err := a.credentials.SetCredential(ctx, id, secret); err != nil {
		return CredentialReset{}, a.collaboratorFailure("credentials", "set credential", err)
	}

	a.logger.Debug("credential reset", "user_id", id)
	return CredentialReset{UserID: id, ResetAt: a.clock.Now()}, nil
}

// GetUser returns a user by id.
func (a *Admin) GetUser(id int64) (User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.users.Get(id)
}

// ListUsers returns all users ordered by id.
func (a *Admin) ListUsers() []User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.users.List()
}

// UsersNeedingPasswordRenewal returns users whose password expires within
// thresholdDays of asOf, expired ones included.
func (a *Admin) UsersNeedingPasswordRenewal(asOf time.Time, thresholdDays int) []User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.users.NeedingPasswordRenewal(asOf, thresholdDays)
}

// Stats returns display counters as of the directory clock.
func (a *Admin) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.users.Stats()
	s.PasswordRenewalDue = len(a.users.NeedingPasswordRenewal(a.clock.Now(), a.renewalDays))
	return s
}

// notifyReload runs without the directory lock held so the reloader may
// read roles back through the Admin.
func (a *Admin) notifyReload(ctx context.Context) {
	if a.reloader == nil {
		return
	}
	if err := a.reloader.ReloadRoles(ctx); err != nil {
		a.logger.Error("failed to reload roles after change", "error", err)
	}
}

func (a *Admin) revokeCredential(ctx context.Context, id int64) {
	if a.credentials == nil {
		return
	}
	if err := a.credentials.DeleteCredential(context.WithoutCancel(ctx), id); err != nil {
		a.logger.Error("failed to remove credential", "user_id", id, "error", err)
	}
}

func (a *Admin) collaboratorFailure(collaborator, op string, err error) error {
	a.logger.Error("collaborator call failed", "collaborator", collaborator, "op", op, "error", err)
	return collaboratorErr(collaborator, op, err)
}

func (a *Admin) observe(op string, err error) {
	if a.observer != nil {
		a.observer.ObserveOperation(op, err)
	}
}

// mustCommit halts on a commit failure. Commits run after validation under
// the write lock, so an error here means an invariant is already broken.
// The halt func normally ends the process; if it returns, the goroutine
// panics so the broken commit is never reported as a success.
func (a *Admin) mustCommit(err error) {
	if err == nil {
		return
	}
	err = fmt.Errorf("%w: commit after validation failed: %v", ErrInternalConsistency, err)
	a.logger.Error("directory state is inconsistent", "error", err)
	if a.halt != nil {
		a.halt(err)
	}
	panic(err)
}
