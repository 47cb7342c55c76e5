package directory

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/valinor-ai/useradmin/internal/catalog"
)

// RoleRegistry owns the set of roles keyed by id with unique names.
// It is not safe for concurrent use; Admin serializes access.
type RoleRegistry struct {
	permissions *catalog.Permissions
	roles       map[int64]*Role
	byName      map[string]int64
}

// NewRoleRegistry creates an empty registry validating tags against perms.
func NewRoleRegistry(perms *catalog.Permissions) *RoleRegistry {
	return &RoleRegistry{
		permissions: perms,
		roles:       make(map[int64]*Role),
		byName:      make(map[string]int64),
	}
}

// ValidateCreate checks a role creation request without applying it and
// returns the normalized permission set.
func (r *RoleRegistry) ValidateCreate(in NewRole) ([]string, error) {
	if err := validateFields(in); err != nil {
		return nil, err
	}
	if _, ok := r.byName[in.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleDuplicate, in.Name)
	}
	return r.normalizePermissions(in.Permissions, false)
}

// Create adds a custom role with a zero user count.
func (r *RoleRegistry) Create(id int64, in NewRole, now time.Time) (Role, error) {
	perms, err := r.ValidateCreate(in)
	if err != nil {
		return Role{}, err
	}
	return r.insert(&Role{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Permissions: perms,
		CreatedAt:   now,
	})
}

// AddSystemRole seeds a protected role. Only used during initialization.
func (r *RoleRegistry) AddSystemRole(id int64, in NewRole, now time.Time) (Role, error) {
	if err := validateFields(in); err != nil {
		return Role{}, fmt.Errorf("system role: %w", err)
	}
	if _, ok := r.byName[in.Name]; ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleDuplicate, in.Name)
	}
	perms, err := r.normalizePermissions(in.Permissions, true)
	if err != nil {
		return Role{}, err
	}
	if len(perms) == 0 {
		return Role{}, fmt.Errorf("%w: %s must keep at least one permission", ErrSystemRoleProtected, in.Name)
	}
	return r.insert(&Role{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Permissions: perms,
		IsSystem:    true,
		CreatedAt:   now,
	})
}

func (r *RoleRegistry) insert(role *Role) (Role, error) {
	if _, ok := r.roles[role.ID]; ok {
		return Role{}, fmt.Errorf("%w: role id %d reused", ErrInternalConsistency, role.ID)
	}
	r.roles[role.ID] = role
	r.byName[role.Name] = role.ID
	return role.clone(), nil
}

// ValidateUpdatePermissions checks a permission replacement without applying it.
func (r *RoleRegistry) ValidateUpdatePermissions(id int64, permissions []string) ([]string, error) {
	role, ok := r.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	perms, err := r.normalizePermissions(permissions, role.IsSystem)
	if err != nil {
		return nil, err
	}
	if role.IsSystem && len(perms) == 0 {
		return nil, fmt.Errorf("%w: %s must keep at least one permission", ErrSystemRoleProtected, role.Name)
	}
	return perms, nil
}

// UpdatePermissions replaces the permission set of a role.
func (r *RoleRegistry) UpdatePermissions(id int64, permissions []string) (Role, error) {
	perms, err := r.ValidateUpdatePermissions(id, permissions)
	if err != nil {
		return Role{}, err
	}
	role := r.roles[id]
	role.Permissions = perms
	return role.clone(), nil
}

// ValidateDelete checks whether a role can be removed.
func (r *RoleRegistry) ValidateDelete(id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	if role.IsSystem {
		return Role{}, fmt.Errorf("%w: %s cannot be deleted", ErrSystemRoleProtected, role.Name)
	}
	if role.UserCount > 0 {
		return Role{}, fmt.Errorf("%w: %s has %d users", ErrRoleInUse, role.Name, role.UserCount)
	}
	return role.clone(), nil
}

// Delete removes a role. It never reassigns users.
func (r *RoleRegistry) Delete(id int64) error {
	role, err := r.ValidateDelete(id)
	if err != nil {
		return err
	}
	delete(r.byName, role.Name)
	delete(r.roles, id)
	return nil
}

// Get returns a role by id.
func (r *RoleRegistry) Get(id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return role.clone(), nil
}

// GetByName returns a role by its exact name.
func (r *RoleRegistry) GetByName(name string) (Role, error) {
	id, ok := r.byName[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return r.roles[id].clone(), nil
}

// List returns all roles ordered by id.
func (r *RoleRegistry) List() []Role {
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role.clone())
	}
	slices.SortFunc(out, func(a, b Role) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *RoleRegistry) incrementUserCount(id int64) error {
	role, ok := r.roles[id]
	if !ok {
		return fmt.Errorf("%w: increment on missing role %d", ErrInternalConsistency, id)
	}
	role.UserCount++
	return nil
}

func (r *RoleRegistry) decrementUserCount(id int64) error {
	role, ok := r.roles[id]
	if !ok {
		return fmt.Errorf("%w: decrement on missing role %d", ErrInternalConsistency, id)
	}
	if role.UserCount <= 0 {
		return fmt.Errorf("%w: user count of %s would go negative", ErrInternalConsistency, role.Name)
	}
	role.UserCount--
	return nil
}

// moveUserCount transfers one reference from one role to another. Both
// roles are checked before either count changes.
func (r *RoleRegistry) moveUserCount(fromID, toID int64) error {
	from, ok := r.roles[fromID]
	if !ok {
		return fmt.Errorf("%w: move from missing role %d", ErrInternalConsistency, fromID)
	}
	if _, ok := r.roles[toID]; !ok {
		return fmt.Errorf("%w: move to missing role %d", ErrInternalConsistency, toID)
	}
	if from.UserCount <= 0 {
		return fmt.Errorf("%w: user count of %s would go negative", ErrInternalConsistency, from.Name)
	}
	if fromID == toID {
		return nil
	}
	from.UserCount--
	r.roles[toID].UserCount++
	return nil
}

func (r *RoleRegistry) normalizePermissions(permissions []string, system bool) ([]string, error) {
	out := make([]string, 0, len(permissions))
	for _, p := range permissions {
		if !r.permissions.Contains(p) {
			return nil, fmt.Errorf("%w: %q is not in the catalog", ErrInvalidPermission, p)
		}
		if p == catalog.All && !system {
			return nil, fmt.Errorf("%w: %q is reserved for system roles", ErrInvalidPermission, p)
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// restore inserts a persisted role. Its user count is rebuilt by the users
// restored after it.
func (r *RoleRegistry) restore(role Role) error {
	if _, ok := r.byName[role.Name]; ok {
		return fmt.Errorf("%w: duplicate role name %s in snapshot", ErrInternalConsistency, role.Name)
	}
	role = role.clone()
	role.UserCount = 0
	_, err := r.insert(&role)
	return err
}
