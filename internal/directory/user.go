package directory

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Toggled returns the opposite status.
func (s Status) Toggled() Status {
	if s == StatusActive {
		return StatusInactive
	}
	return StatusActive
}

// User is an account managed by the directory.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Status     Status `json:"status"`
	// LastLogin is nil until the authentication collaborator records a login.
	LastLogin        *time.Time `json:"last_login"`
	LoginCount       int        `json:"login_count"`
	Permissions      []string   `json:"permissions"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	PasswordExpiry   time.Time  `json:"password_expiry"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (u User) clone() User {
	u.Permissions = slices.Clone(u.Permissions)
	if u.Permissions == nil {
		u.Permissions = []string{}
	}
	if u.LastLogin != nil {
		at := *u.LastLogin
		u.LastLogin = &at
	}
	return u
}

// NewUser is the input for account creation. Password is handed to the
// credential store and never kept on the User.
type NewUser struct {
	Username   string `json:"username" validate:"notblank"`
	FullName   string `json:"full_name" validate:"notblank"`
	Email      string `json:"email" validate:"notblank,email"`
	Role       string `json:"role" validate:"notblank"`
	Department string `json:"department" validate:"notblank"`
	Password   string `json:"-" validate:"notblank"`
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	Username    *string   `json:"username,omitempty"`
	FullName    *string   `json:"full_name,omitempty"`
	Email       *string   `json:"email,omitempty"`
	Role        *string   `json:"role,omitempty"`
	Department  *string   `json:"department,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.FullName == nil && u.Email == nil &&
		u.Role == nil && u.Department == nil && u.Permissions == nil
}

// UserDeletionPreview describes what deleting a user would do.
type UserDeletionPreview struct {
	User User `json:"user"`
	Role Role `json:"role"`
}

// CredentialReset confirms a credential change. It never carries the secret.
type CredentialReset struct {
	UserID  int64     `json:"user_id"`
	ResetAt time.Time `json:"reset_at"`
}

// Stats are display counters recomputed on every call.
type Stats struct {
	Total              int `json:"total"`
	Active             int `json:"active"`
	TwoFactorEnabled   int `json:"two_factor_enabled"`
	PasswordRenewalDue int `json:"password_renewal_due"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateFields runs the struct rules of a NewUser or NewRole and folds
// field errors into one ErrValidation.
func validateFields(in any, except ...string) error {
	var err error
	if len(except) > 0 {
		err = validate.StructExcept(in, except...)
	} else {
		err = validate.Struct(in)
	}
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fieldError(fe))
	}
	return validationErr("%s", strings.Join(msgs, "; "))
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email"
	default:
		return fmt.Sprintf("%s failed validation (%s)", fe.Field(), fe.Tag())
	}
}
