package directory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const maxBodyBytes = 10 << 10

// Handler serves the directory-wide read endpoints: catalogs, counters
// and the password renewal report.
type Handler struct {
	admin *Admin
}

// NewHandler creates a new directory handler.
func NewHandler(admin *Admin) *Handler {
	return &Handler{admin: admin}
}

// HandleListPermissions returns the assignable capability tags.
func (h *Handler) HandleListPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Permissions())
}

// HandleListDepartments returns the configured departments.
func (h *Handler) HandleListDepartments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Departments())
}

// HandleStats returns the display counters.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Stats())
}

type renewalReport struct {
	AsOf          time.Time `json:"as_of"`
	ThresholdDays int       `json:"threshold_days"`
	Users         []User    `json:"users"`
}

// HandlePasswordRenewals lists users whose password expires within the
// threshold, which defaults to the configured alert window.
func (h *Handler) HandlePasswordRenewals(w http.ResponseWriter, r *http.Request) {
	days := h.admin.RenewalThresholdDays()
	if raw := r.URL.Query().Get("threshold_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold_days must be a non-negative integer"})
			return
		}
		days = n
	}

	asOf := h.admin.Now()
	writeJSON(w, http.StatusOK, renewalReport{
		AsOf:          asOf,
		ThresholdDays: days,
		Users:         h.admin.UsersNeedingPasswordRenewal(asOf, days),
	})
}

// StatusFor maps a directory error to an HTTP status code.
func StatusFor(err error) int {
	switch KindOf(err) {
	case "ok":
		return http.StatusOK
	case "validation", "unknown_role", "invalid_permission":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict", "role_in_use":
		return http.StatusConflict
	case "system_role_protected":
		return http.StatusForbidden
	case "collaborator":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Server-side failures are logged
// and answered with fallback so internal details stay out of the response.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error(fallback, "error", err)
		msg = fallback
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": KindOf(err)})
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + what + " id"})
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + what + " id"})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
