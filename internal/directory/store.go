package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valinor-ai/useradmin/internal/platform/database"
)

// Store persists roles and users in Postgres. It implements Persister and
// loads the Snapshot used by Admin.Bootstrap.
type Store struct {
	pool *database.Pool
}

// NewStore creates a new directory store.
func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool}
}

// Load reads all roles and users in id order. Role user counts are left at
// zero; Bootstrap derives them from the users.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		roles, err := listRoles(ctx, q)
		if err != nil {
			return err
		}
		users, err := listUsers(ctx, q)
		if err != nil {
			return err
		}
		snap = Snapshot{Roles: roles, Users: users}
		return nil
	})
	return snap, err
}

// SaveRole inserts or replaces a role.
func (s *Store) SaveRole(ctx context.Context, r Role) error {
	permJSON, err := marshalPermissions(r.Permissions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO roles (id, name, description, permissions, is_system, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET description = EXCLUDED.description, permissions = EXCLUDED.permissions`,
		r.ID, r.Name, r.Description, permJSON, r.IsSystem, r.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrRoleDuplicate, r.Name)
		}
		return fmt.Errorf("saving role: %w", err)
	}
	return nil
}

// DeleteRole removes a role row. The foreign key on users rejects the
// delete while any user still references the role.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	return nil
}

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	permJSON, err := marshalPermissions(u.Permissions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, username, full_name, email, role_name, department, status,
		                    last_login, login_count, permissions, two_factor_enabled,
		                    password_expiry, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE
		 SET username = EXCLUDED.username,
		     full_name = EXCLUDED.full_name,
		     email = EXCLUDED.email,
		     role_name = EXCLUDED.role_name,
		     department = EXCLUDED.department,
		     status = EXCLUDED.status,
		     last_login = EXCLUDED.last_login,
		     login_count = EXCLUDED.login_count,
		     permissions = EXCLUDED.permissions,
		     two_factor_enabled = EXCLUDED.two_factor_enabled,
		     password_expiry = EXCLUDED.password_expiry`,
		u.ID, u.Username, u.FullName, u.Email, u.Role, u.Department, string(u.Status),
		u.LastLogin, u.LoginCount, permJSON, u.TwoFactorEnabled,
		u.PasswordExpiry, u.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrUsernameDuplicate, u.Username)
		}
		return fmt.Errorf("saving user: %w", err)
	}
	return nil
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

func marshalPermissions(perms []string) ([]byte, error) {
	if perms == nil {
		perms = []string{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return nil, fmt.Errorf("marshaling permissions: %w", err)
	}
	return b, nil
}

func listRoles(ctx context.Context, q database.Querier) ([]Role, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, description, permissions, is_system, created_at
		 FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		var permBytes []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &permBytes, &r.IsSystem, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		if err := json.Unmarshal(permBytes, &r.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshaling permissions: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func listUsers(ctx context.Context, q database.Querier) ([]User, error) {
	rows, err := q.Query(ctx,
		`SELECT id, username, full_name, email, role_name, department, status,
		        last_login, login_count, permissions, two_factor_enabled,
		        password_expiry, created_at
		 FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var status string
		var permBytes []byte
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Role, &u.Department, &status,
			&u.LastLogin, &u.LoginCount, &permBytes, &u.TwoFactorEnabled,
			&u.PasswordExpiry, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Status = Status(status)
		if err := json.Unmarshal(permBytes, &u.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshaling permissions: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
