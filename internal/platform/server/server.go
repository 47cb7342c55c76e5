package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/valinor-ai/useradmin/internal/directory"
	"github.com/valinor-ai/useradmin/internal/platform/middleware"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	// Pool is nil when the directory runs without a database.
	Pool               Pinger
	DirectoryHandler   *directory.Handler
	RoleHandler        *directory.RoleHandler
	UserHandler        *directory.UserHandler
	Metrics            http.Handler
	MetricsPath        string
	Logger             *slog.Logger
	CORSAllowedOrigins []string
}

type Server struct {
	httpServer *http.Server
	pool       Pinger
	handler    http.Handler
}

func New(addr string, deps Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		pool: deps.Pool,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, deps.Metrics)
	}

	if h := deps.DirectoryHandler; h != nil {
		mux.HandleFunc("GET /api/v1/permissions", h.HandleListPermissions)
		mux.HandleFunc("GET /api/v1/departments", h.HandleListDepartments)
		mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
		mux.HandleFunc("GET /api/v1/security/password-renewals", h.HandlePasswordRenewals)
	}

	if h := deps.RoleHandler; h != nil {
		mux.HandleFunc("GET /api/v1/roles", h.HandleList)
		mux.HandleFunc("POST /api/v1/roles", h.HandleCreate)
		mux.HandleFunc("GET /api/v1/roles/{id}", h.HandleGet)
		mux.HandleFunc("PUT /api/v1/roles/{id}/permissions", h.HandleUpdatePermissions)
		mux.HandleFunc("GET /api/v1/roles/{id}/deletion", h.HandlePreviewDelete)
		mux.HandleFunc("DELETE /api/v1/roles/{id}", h.HandleDelete)
	}

	if h := deps.UserHandler; h != nil {
		mux.HandleFunc("GET /api/v1/users", h.HandleList)
		mux.HandleFunc("POST /api/v1/users", h.HandleCreate)
		mux.HandleFunc("POST /api/v1/users/validate", h.HandleValidate)
		mux.HandleFunc("GET /api/v1/users/{id}", h.HandleGet)
		mux.HandleFunc("PATCH /api/v1/users/{id}", h.HandleUpdate)
		mux.HandleFunc("GET /api/v1/users/{id}/deletion", h.HandlePreviewDelete)
		mux.HandleFunc("DELETE /api/v1/users/{id}", h.HandleDelete)
		mux.HandleFunc("PUT /api/v1/users/{id}/status", h.HandleSetStatus)
		mux.HandleFunc("POST /api/v1/users/{id}/status/toggle", h.HandleToggleStatus)
		mux.HandleFunc("PUT /api/v1/users/{id}/two-factor", h.HandleSetTwoFactor)
		mux.HandleFunc("POST /api/v1/users/{id}/credential", h.HandleResetCredential)
		mux.HandleFunc("GET /api/v1/users/{id}/access", h.HandleAccess)
	}

	// Wrap with observability middleware
	var handler http.Handler = mux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports ready without a database, since the directory
// then lives in memory only.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "memory"})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "postgres"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
