package directory

import (
	"slices"
	"time"
)

// Role is a named bundle of capability tags assignable to users.
type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	// UserCount is derived from the users referencing the role and is only
	// changed by the directory when a user's role reference changes.
	UserCount int       `json:"user_count"`
	IsSystem  bool      `json:"is_system"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Role) clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	if r.Permissions == nil {
		r.Permissions = []string{}
	}
	return r
}

// NewRole is the input for role creation.
type NewRole struct {
	Name        string   `json:"name" validate:"notblank"`
	Description string   `json:"description" validate:"notblank"`
	Permissions []string `json:"permissions"`
}

// RoleDeletionPreview describes what deleting a role would do, without
// doing it.
type RoleDeletionPreview struct {
	Role          Role   `json:"role"`
	AffectedUsers []User `json:"affected_users"`
	Deletable     bool   `json:"deletable"`
	Reason        string `json:"reason,omitempty"`
}
