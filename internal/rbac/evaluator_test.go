package rbac_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/useradmin/internal/catalog"
	"github.com/valinor-ai/useradmin/internal/rbac"
)

func newEvaluator(t *testing.T, opts ...rbac.EvaluatorOption) *rbac.Evaluator {
	t.Helper()
	perms, err := catalog.NewPermissions([]string{"Dashboard", "Sales", "Reports", "Payroll"})
	require.NoError(t, err)
	return rbac.NewEvaluator(perms, opts...)
}

func TestEvaluator_PermissionGranted(t *testing.T) {
	eval := newEvaluator(t)
	eval.RegisterRole("Auditor", []string{"Reports", "Dashboard"})

	subject := &rbac.Subject{UserID: 1, Role: "Auditor", Active: true}
	decision, err := eval.Authorize(context.Background(), subject, "Reports")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEvaluator_PermissionDenied(t *testing.T) {
	eval := newEvaluator(t)
	eval.RegisterRole("Auditor", []string{"Reports"})

	subject := &rbac.Subject{UserID: 1, Role: "Auditor", Active: true}
	decision, err := eval.Authorize(context.Background(), subject, "Payroll")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
}

func TestEvaluator_AllGrantsEverything(t *testing.T) {
	eval := newEvaluator(t)
	eval.RegisterRole("Super Admin", []string{catalog.All})

	subject := &rbac.Subject{UserID: 1, Role: "Super Admin", Active: true}
	decision, err := eval.Authorize(context.Background(), subject, "anything")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	access := eval.EffectiveAccess(subject)
	assert.True(t, access.Unrestricted)
	assert.Equal(t, []string{"Dashboard", "Sales", "Reports", "Payroll"}, access.Permissions)
}

func TestEvaluator_DirectPermissions(t *testing.T) {
	eval := newEvaluator(t)
	eval.RegisterRole("Auditor", []string{"Reports"})

	subject := &rbac.Subject{UserID: 1, Role: "Auditor", Permissions: []string{"Payroll"}, Active: true}
	decision, err := eval.Authorize(context.Background(), subject, "Payroll")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	access := eval.EffectiveAccess(subject)
	assert.False(t, access.Unrestricted)
	assert.Equal(t, []string{"Reports", "Payroll"}, access.Permissions)
}

func TestEvaluator_InactiveDenied(t *testing.T) {
	eval := newEvaluator(t)
	eval.RegisterRole("Super Admin", []string{catalog.All})

	subject := &rbac.Subject{UserID: 1, Role: "Super Admin", Active: false}
	decision, err := eval.Authorize(context.Background(), subject, "Reports")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "account is inactive", decision.Reason)

	access := eval.EffectiveAccess(subject)
	assert.False(t, access.Active)
	assert.Empty(t, access.Permissions)
}

func TestEvaluator_UnknownRole(t *testing.T) {
	eval := newEvaluator(t)

	subject := &rbac.Subject{UserID: 1, Role: "Ghost", Active: true}
	decision, err := eval.Authorize(context.Background(), subject, "Reports")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEvaluator_NilSubject(t *testing.T) {
	eval := newEvaluator(t)

	decision, err := eval.Authorize(context.Background(), nil, "Reports")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Empty(t, eval.EffectiveAccess(nil).Permissions)
}

type mockRoleLoader struct {
	mu    sync.Mutex
	roles []rbac.RoleDef
	err   error
	calls int
}

func (m *mockRoleLoader) LoadRoles(_ context.Context) ([]rbac.RoleDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.roles, m.err
}

func TestEvaluator_ReloadRoles(t *testing.T) {
	loader := &mockRoleLoader{roles: []rbac.RoleDef{
		{Name: "Auditor", Permissions: []string{"Reports"}},
	}}
	eval := newEvaluator(t, rbac.WithRoleLoader(loader))
	require.NoError(t, eval.ReloadRoles(context.Background()))

	subject := &rbac.Subject{UserID: 1, Role: "Auditor", Active: true}
	decision, err := eval.Authorize(context.Background(), subject, "Reports")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// A reload replaces the whole map.
	loader.roles = []rbac.RoleDef{{Name: "Billing", Permissions: []string{"Sales"}}}
	require.NoError(t, eval.ReloadRoles(context.Background()))
	decision, err = eval.Authorize(context.Background(), subject, "Reports")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEvaluator_ReloadRoles_ErrorPreservesExisting(t *testing.T) {
	loader := &mockRoleLoader{roles: []rbac.RoleDef{
		{Name: "Auditor", Permissions: []string{"Reports"}},
	}}
	eval := newEvaluator(t, rbac.WithRoleLoader(loader))
	require.NoError(t, eval.ReloadRoles(context.Background()))

	loader.err = errors.New("store unavailable")
	err := eval.ReloadRoles(context.Background())
	require.Error(t, err)

	subject := &rbac.Subject{UserID: 1, Role: "Auditor", Active: true}
	decision, err := eval.Authorize(context.Background(), subject, "Reports")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEvaluator_ReloadRoles_NoLoader(t *testing.T) {
	eval := newEvaluator(t)
	assert.Error(t, eval.ReloadRoles(context.Background()))
}

func TestEvaluator_ConcurrentReloadAndAuthorize(t *testing.T) {
	loader := &mockRoleLoader{roles: []rbac.RoleDef{
		{Name: "Auditor", Permissions: []string{"Reports"}},
	}}
	eval := newEvaluator(t, rbac.WithRoleLoader(loader))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, eval.ReloadRoles(context.Background()))
				return
			}
			eval.RegisterRole(fmt.Sprintf("role-%d", i), []string{"Sales"})
			_, err := eval.Authorize(context.Background(), &rbac.Subject{Role: "Auditor", Active: true}, "Reports")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, loader.calls)
}
