package directory

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/valinor-ai/useradmin/internal/catalog"
)

// UserDirectory owns the set of accounts keyed by id with unique usernames.
// Role references are resolved and counted through the RoleRegistry. It is
// not safe for concurrent use; Admin serializes access.
type UserDirectory struct {
	roles       *RoleRegistry
	departments *catalog.Departments
	users       map[int64]*User
	byUsername  map[string]int64
}

// NewUserDirectory creates an empty directory bound to a role registry.
func NewUserDirectory(roles *RoleRegistry, departments *catalog.Departments) *UserDirectory {
	return &UserDirectory{
		roles:       roles,
		departments: departments,
		users:       make(map[int64]*User),
		byUsername:  make(map[string]int64),
	}
}

// ValidateCreate checks a creation request and returns the resolved role.
func (d *UserDirectory) ValidateCreate(in NewUser) (Role, error) {
	if err := validateFields(in); err != nil {
		return Role{}, err
	}
	if !d.departments.Contains(in.Department) {
		return Role{}, validationErr("department %q is not recognized", in.Department)
	}
	if _, ok := d.byUsername[in.Username]; ok {
		return Role{}, fmt.Errorf("%w: %s", ErrUsernameDuplicate, in.Username)
	}
	role, err := d.roles.GetByName(in.Role)
	if err != nil {
		return Role{}, fmt.Errorf("%w: %s", ErrUnknownRole, in.Role)
	}
	return role, nil
}

// Create adds an Active account whose password expires after expiry.
func (d *UserDirectory) Create(id int64, in NewUser, now time.Time, expiry time.Duration) (User, error) {
	role, err := d.ValidateCreate(in)
	if err != nil {
		return User{}, err
	}
	if _, ok := d.users[id]; ok {
		return User{}, fmt.Errorf("%w: user id %d reused", ErrInternalConsistency, id)
	}
	if err := d.roles.incrementUserCount(role.ID); err != nil {
		return User{}, err
	}
	u := newUserRecord(id, in, now, expiry)
	d.users[id] = &u
	d.byUsername[u.Username] = id
	return u.clone(), nil
}

func newUserRecord(id int64, in NewUser, now time.Time, expiry time.Duration) User {
	return User{
		ID:             id,
		Username:       in.Username,
		FullName:       in.FullName,
		Email:          in.Email,
		Role:           in.Role,
		Department:     in.Department,
		Status:         StatusActive,
		Permissions:    []string{},
		PasswordExpiry: now.Add(expiry),
		CreatedAt:      now,
	}
}

// ValidateUpdate applies upd to a copy of the user and checks the result.
func (d *UserDirectory) ValidateUpdate(id int64, upd UserUpdate) (User, error) {
	cur, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	next := cur.clone()
	if upd.Username != nil {
		next.Username = *upd.Username
	}
	if upd.FullName != nil {
		next.FullName = *upd.FullName
	}
	if upd.Email != nil {
		next.Email = *upd.Email
	}
	if upd.Role != nil {
		next.Role = *upd.Role
	}
	if upd.Department != nil {
		next.Department = *upd.Department
	}

	fields := NewUser{
		Username:   next.Username,
		FullName:   next.FullName,
		Email:      next.Email,
		Role:       next.Role,
		Department: next.Department,
	}
	if err := validateFields(fields, "Password"); err != nil {
		return User{}, err
	}
	if !d.departments.Contains(next.Department) {
		return User{}, validationErr("department %q is not recognized", next.Department)
	}
	if otherID, ok := d.byUsername[next.Username]; ok && otherID != id {
		return User{}, fmt.Errorf("%w: %s", ErrUsernameDuplicate, next.Username)
	}
	if _, err := d.roles.GetByName(next.Role); err != nil {
		return User{}, fmt.Errorf("%w: %s", ErrUnknownRole, next.Role)
	}
	if upd.Permissions != nil {
		perms, err := d.roles.normalizePermissions(*upd.Permissions, false)
		if err != nil {
			return User{}, err
		}
		next.Permissions = perms
	}
	return next, nil
}

// Update applies a partial update. A role change moves the user from the
// old role's count to the new one as a single step.
func (d *UserDirectory) Update(id int64, upd UserUpdate) (User, error) {
	next, err := d.ValidateUpdate(id, upd)
	if err != nil {
		return User{}, err
	}
	cur := d.users[id]
	if next.Role != cur.Role {
		oldRole, err := d.roles.GetByName(cur.Role)
		if err != nil {
			return User{}, fmt.Errorf("%w: user %d references missing role %s", ErrInternalConsistency, id, cur.Role)
		}
		newRole, _ := d.roles.GetByName(next.Role)
		if err := d.roles.moveUserCount(oldRole.ID, newRole.ID); err != nil {
			return User{}, err
		}
	}
	if next.Username != cur.Username {
		delete(d.byUsername, cur.Username)
		d.byUsername[next.Username] = id
	}
	*cur = next
	return cur.clone(), nil
}

// ValidateDelete checks that the user exists and returns it with its role.
func (d *UserDirectory) ValidateDelete(id int64) (User, Role, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, Role{}, ErrUserNotFound
	}
	role, err := d.roles.GetByName(u.Role)
	if err != nil {
		return User{}, Role{}, fmt.Errorf("%w: user %d references missing role %s", ErrInternalConsistency, id, u.Role)
	}
	return u.clone(), role, nil
}

// Delete removes the user and releases its role reference.
func (d *UserDirectory) Delete(id int64) error {
	u, role, err := d.ValidateDelete(id)
	if err != nil {
		return err
	}
	if err := d.roles.decrementUserCount(role.ID); err != nil {
		return err
	}
	delete(d.byUsername, u.Username)
	delete(d.users, id)
	return nil
}

// SetStatus changes the account status.
func (d *UserDirectory) SetStatus(id int64, status Status) (User, error) {
	if !status.Valid() {
		return User{}, validationErr("status %q is not recognized", status)
	}
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.Status = status
	return u.clone(), nil
}

// SetTwoFactor changes the multi-factor flag.
func (d *UserDirectory) SetTwoFactor(id int64, enabled bool) (User, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.TwoFactorEnabled = enabled
	return u.clone(), nil
}

func (d *UserDirectory) recordLogin(id int64, at time.Time) (User, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.LastLogin = &at
	u.LoginCount++
	return u.clone(), nil
}

// Get returns a user by id.
func (d *UserDirectory) Get(id int64) (User, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u.clone(), nil
}

// List returns all users ordered by id.
func (d *UserDirectory) List() []User {
	return d.filter(func(*User) bool { return true })
}

// ListByRole returns the users referencing the named role, ordered by id.
func (d *UserDirectory) ListByRole(name string) []User {
	return d.filter(func(u *User) bool { return u.Role == name })
}

// NeedingPasswordRenewal returns users whose password expires within
// thresholdDays of asOf, already expired ones included. Days are counted
// as ceil((expiry - asOf) / 24h).
func (d *UserDirectory) NeedingPasswordRenewal(asOf time.Time, thresholdDays int) []User {
	return d.filter(func(u *User) bool {
		return daysUntil(u.PasswordExpiry, asOf) <= thresholdDays
	})
}

// Stats counts users by state. PasswordRenewalDue is left to the caller.
func (d *UserDirectory) Stats() Stats {
	var s Stats
	for _, u := range d.users {
		s.Total++
		if u.Status == StatusActive {
			s.Active++
		}
		if u.TwoFactorEnabled {
			s.TwoFactorEnabled++
		}
	}
	return s
}

func (d *UserDirectory) filter(keep func(*User) bool) []User {
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		if keep(u) {
			out = append(out, u.clone())
		}
	}
	slices.SortFunc(out, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func daysUntil(expiry, asOf time.Time) int {
	return int(math.Ceil(expiry.Sub(asOf).Hours() / 24))
}

// restore inserts a persisted user and counts its role reference.
func (d *UserDirectory) restore(u User) error {
	if _, ok := d.users[u.ID]; ok {
		return fmt.Errorf("%w: user id %d reused in snapshot", ErrInternalConsistency, u.ID)
	}
	if _, ok := d.byUsername[u.Username]; ok {
		return fmt.Errorf("%w: duplicate username %s in snapshot", ErrInternalConsistency, u.Username)
	}
	role, err := d.roles.GetByName(u.Role)
	if err != nil {
		return fmt.Errorf("%w: user %d references missing role %s", ErrInternalConsistency, u.ID, u.Role)
	}
	if err := d.roles.incrementUserCount(role.ID); err != nil {
		return err
	}
	u = u.clone()
	d.users[u.ID] = &u
	d.byUsername[u.Username] = u.ID
	return nil
}
