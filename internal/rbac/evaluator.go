package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/valinor-ai/useradmin/internal/catalog"
)

// RoleDef is a role name with its permission strings, used by RoleLoader.
type RoleDef struct {
	Name        string
	Permissions []string
}

// RoleLoader loads role definitions from a backing store.
type RoleLoader interface {
	LoadRoles(ctx context.Context) ([]RoleDef, error)
}

// EvaluatorOption configures the Evaluator.
type EvaluatorOption func(*Evaluator)

// WithRoleLoader sets the RoleLoader used by ReloadRoles.
func WithRoleLoader(loader RoleLoader) EvaluatorOption {
	return func(e *Evaluator) {
		e.loader = loader
	}
}

// Evaluator is the in-memory RBAC policy evaluation engine. Role
// permissions are cached and refreshed through ReloadRoles; catalog.All
// grants every capability.
type Evaluator struct {
	catalog *catalog.Permissions
	loader  RoleLoader
	roles   map[string][]string // roleName → permissions
	mu      sync.RWMutex
	// reloadMu keeps concurrent reloads from installing an older snapshot
	// over a newer one.
	reloadMu sync.Mutex
}

func NewEvaluator(perms *catalog.Permissions, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		catalog: perms,
		roles:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReloadRoles loads roles from the RoleLoader and replaces the in-memory map.
// If loading fails, the existing map is preserved.
func (e *Evaluator) ReloadRoles(ctx context.Context) error {
	if e.loader == nil {
		return errors.New("no role loader configured")
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	defs, err := e.loader.LoadRoles(ctx)
	if err != nil {
		return fmt.Errorf("loading roles: %w", err)
	}

	newRoles := make(map[string][]string, len(defs))
	for _, d := range defs {
		newRoles[d.Name] = slices.Clone(d.Permissions)
	}

	e.mu.Lock()
	e.roles = newRoles
	e.mu.Unlock()

	return nil
}

// RegisterRole adds a role with its permissions to the in-memory cache.
func (e *Evaluator) RegisterRole(name string, permissions []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roles[name] = slices.Clone(permissions)
}

// Authorize checks if the subject has the capability.
// Evaluation order: inactive deny -> role permissions -> direct permissions.
func (e *Evaluator) Authorize(_ context.Context, subject *Subject, capability string) (*Decision, error) {
	if subject == nil {
		return &Decision{Allowed: false, Reason: "no subject"}, nil
	}
	if !subject.Active {
		return &Decision{Allowed: false, Reason: "account is inactive"}, nil
	}

	if e.checkRolePermissions(subject.Role, capability) {
		return &Decision{Allowed: true}, nil
	}
	if grants(subject.Permissions, capability) {
		return &Decision{Allowed: true}, nil
	}

	return &Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("no permission for %s", capability),
	}, nil
}

// EffectiveAccess returns the union of role and direct permissions. An
// inactive subject has no access; a wildcard role expands to the full
// catalog.
func (e *Evaluator) EffectiveAccess(subject *Subject) Access {
	if subject == nil {
		return Access{Permissions: []string{}}
	}
	access := Access{
		UserID:      subject.UserID,
		Role:        subject.Role,
		Active:      subject.Active,
		Permissions: []string{},
	}
	if !subject.Active {
		return access
	}

	e.mu.RLock()
	rolePerms := e.roles[subject.Role]
	e.mu.RUnlock()

	if slices.Contains(rolePerms, catalog.All) || slices.Contains(subject.Permissions, catalog.All) {
		access.Unrestricted = true
		access.Permissions = e.catalog.List()
		return access
	}

	// Catalog order keeps the output stable.
	for _, p := range e.catalog.List() {
		if slices.Contains(rolePerms, p) || slices.Contains(subject.Permissions, p) {
			access.Permissions = append(access.Permissions, p)
		}
	}
	return access
}

func (e *Evaluator) checkRolePermissions(role, capability string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	perms, ok := e.roles[role]
	if !ok {
		return false
	}
	return grants(perms, capability)
}

func grants(perms []string, capability string) bool {
	for _, perm := range perms {
		if perm == catalog.All || perm == capability {
			return true
		}
	}
	return false
}
