package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/useradmin/internal/catalog"
	"github.com/valinor-ai/useradmin/internal/credential"
	"github.com/valinor-ai/useradmin/internal/directory"
	"github.com/valinor-ai/useradmin/internal/platform/metrics"
	"github.com/valinor-ai/useradmin/internal/platform/server"
	"github.com/valinor-ai/useradmin/internal/rbac"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func serve(srv *server.Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func newTestDeps(t *testing.T) server.Dependencies {
	t.Helper()
	perms, err := catalog.NewPermissions([]string{"Dashboard", "Reports", "Payroll"})
	require.NoError(t, err)
	depts, err := catalog.NewDepartments([]string{"IT", "Finance"})
	require.NoError(t, err)

	hasher, err := credential.NewHasher(4)
	require.NoError(t, err)

	admin, err := directory.NewAdmin(directory.Config{
		Permissions: perms,
		Departments: depts,
		SystemRoles: []directory.NewRole{{
			Name:        "Super Admin",
			Description: "Full access to all features",
			Permissions: []string{catalog.All},
		}},
	}, directory.WithCredentialStore(credential.NewStore(hasher, credential.NewMemoryBackend())))
	require.NoError(t, err)
	require.NoError(t, admin.Bootstrap(context.Background(), directory.Snapshot{}))

	eval := rbac.NewEvaluator(perms)
	eval.RegisterRole("Super Admin", []string{catalog.All})

	return server.Dependencies{
		DirectoryHandler: directory.NewHandler(admin),
		RoleHandler:      directory.NewRoleHandler(admin),
		UserHandler:      directory.NewUserHandler(admin, eval),
		Metrics:          metrics.Handler(),
	}
}

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	w := serve(srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadinessCheck(t *testing.T) {
	tests := []struct {
		name    string
		pool    server.Pinger
		status  int
		storage string
	}{
		{"memory", nil, http.StatusOK, "memory"},
		{"postgres up", fakePinger{}, http.StatusOK, "postgres"},
		{"postgres down", fakePinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server.New(":0", server.Dependencies{Pool: tt.pool})

			w := serve(srv, http.MethodGet, "/readyz", "")

			assert.Equal(t, tt.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.storage, body["storage"])
		})
	}
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	w := serve(srv, http.MethodGet, "/nonexistent", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RequestIDOnEveryResponse(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	w := serve(srv, http.MethodGet, "/healthz", "")

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_DirectoryRoutes(t *testing.T) {
	srv := server.New(":0", newTestDeps(t))

	w := serve(srv, http.MethodPost, "/api/v1/roles",
		`{"name":"Auditor","description":"Reads reports","permissions":["Reports"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(srv, http.MethodPost, "/api/v1/users",
		`{"username":"asmith","full_name":"Alice Smith","email":"asmith@example.com",
		"role":"Auditor","department":"Finance","password":"pw-1","confirm_password":"pw-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var user directory.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))

	w = serve(srv, http.MethodGet, "/api/v1/roles", "")
	require.Equal(t, http.StatusOK, w.Code)
	var roles []directory.Role
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
	require.Len(t, roles, 2)
	assert.Equal(t, 1, roles[1].UserCount)

	w = serve(srv, http.MethodPatch, "/api/v1/users/1", `{"department":"IT"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(srv, http.MethodPost, "/api/v1/users/1/status/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Inactive"`)

	w = serve(srv, http.MethodDelete, "/api/v1/roles/2", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(srv, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = serve(srv, http.MethodGet, "/api/v1/security/password-renewals?threshold_days=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "asmith")

	w = serve(srv, http.MethodDelete, "/api/v1/users/1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(srv, http.MethodDelete, "/api/v1/roles/2", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := server.New(":0", newTestDeps(t))

	w := serve(srv, http.MethodPut, "/api/v1/users/1", `{}`)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	deps := newTestDeps(t)
	deps.MetricsPath = "/internal/metrics"
	srv := server.New(":0", deps)

	w := serve(srv, http.MethodGet, "/internal/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CORS(t *testing.T) {
	deps := newTestDeps(t)
	deps.CORSAllowedOrigins = []string{"http://localhost:3000"}
	srv := server.New(":0", deps)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	cancel()

	err := <-errCh
	assert.NoError(t, err)
}
