package directory

import (
	"errors"
	"fmt"
)

// Error kinds. Specific errors wrap one of these so callers can branch with
// errors.Is on the kind.
var (
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
	ErrUnknownRole         = errors.New("unknown role")
	ErrInvalidPermission   = errors.New("invalid permission")
	ErrSystemRoleProtected = errors.New("system role is protected")
	ErrRoleInUse           = errors.New("role is assigned to users")
	ErrInternalConsistency = errors.New("internal consistency violated")
)

var (
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrRoleNotFound      = fmt.Errorf("role %w", ErrNotFound)
	ErrUsernameDuplicate = fmt.Errorf("username %w", ErrConflict)
	ErrRoleDuplicate     = fmt.Errorf("role name %w", ErrConflict)
)

// CollaboratorError reports a failed call to an external collaborator
// (credential store, persistence). The operation was not applied.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func collaboratorErr(collaborator, op string, err error) error {
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// KindOf returns a short label for the error kind, used for status mapping
// and metrics labels.
func KindOf(err error) string {
	var collab *CollaboratorError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &collab):
		return "collaborator"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownRole):
		return "unknown_role"
	case errors.Is(err, ErrInvalidPermission):
		return "invalid_permission"
	case errors.Is(err, ErrSystemRoleProtected):
		return "system_role_protected"
	case errors.Is(err, ErrRoleInUse):
		return "role_in_use"
	case errors.Is(err, ErrInternalConsistency):
		return "internal_consistency"
	default:
		return "internal"
	}
}
