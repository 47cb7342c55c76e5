package rbac

import "context"

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Subject is the account being evaluated: its single role, any permissions
// granted to it directly, and whether it is active.
type Subject struct {
	UserID      int64
	Role        string
	Permissions []string
	Active      bool
}

// Access is the effective capability set of a subject.
type Access struct {
	UserID       int64    `json:"user_id"`
	Role         string   `json:"role"`
	Active       bool     `json:"active"`
	Unrestricted bool     `json:"unrestricted"`
	Permissions  []string `json:"permissions"`
}

// PolicyEngine defines the authorization interface.
type PolicyEngine interface {
	// Authorize checks whether the subject holds the capability.
	Authorize(ctx context.Context, subject *Subject, capability string) (*Decision, error)
	// EffectiveAccess lists what the subject can do.
	EffectiveAccess(subject *Subject) Access
}
