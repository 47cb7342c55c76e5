package directory

import (
	"net/http"

	"github.com/valinor-ai/useradmin/internal/rbac"
)

// UserHandler handles user HTTP endpoints.
type UserHandler struct {
	admin  *Admin
	access rbac.PolicyEngine
}

// NewUserHandler creates a new user handler. access may be nil, in which
// case the access endpoint reports 503.
func NewUserHandler(admin *Admin, access rbac.PolicyEngine) *UserHandler {
	return &UserHandler{admin: admin, access: access}
}

type createUserRequest struct {
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	Department      string `json:"department"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (req createUserRequest) newUser() NewUser {
	return NewUser{
		Username:   req.Username,
		FullName:   req.FullName,
		Email:      req.Email,
		Role:       req.Role,
		Department: req.Department,
		Password:   req.Password,
	}
}

func (h *UserHandler) decodeCreate(w http.ResponseWriter, r *http.Request) (NewUser, bool) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return NewUser{}, false
	}
	if req.Password != req.ConfirmPassword {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "passwords do not match", "kind": "validation"})
		return NewUser{}, false
	}
	return req.newUser(), true
}

// HandleCreate creates an account and hands its password to the credential
// store.
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}

	user, err := h.admin.CreateUser(r.Context(), in)
	if err != nil {
		writeError(w, err, "user creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleValidate checks a creation request without creating anything.
func (h *UserHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}

	if err := h.admin.PreviewCreateUser(in); err != nil {
		writeError(w, err, "user validation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// HandleList returns all users.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.ListUsers())
}

// HandleGet returns a user by ID.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	user, err := h.admin.GetUser(id)
	if err != nil {
		writeError(w, err, "fetching user failed")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleUpdate applies a partial update.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	var upd UserUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	if upd.Empty() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no fields to update", "kind": "validation"})
		return
	}

	user, err := h.admin.UpdateUser(r.Context(), id, upd)
	if err != nil {
		writeError(w, err, "user update failed")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandlePreviewDelete returns the user and the role whose count would drop.
func (h *UserHandler) HandlePreviewDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	preview, err := h.admin.PreviewDeleteUser(id)
	if err != nil {
		writeError(w, err, "user deletion preview failed")
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// HandleDelete removes an account.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	if err := h.admin.DeleteUser(r.Context(), id); err != nil {
		writeError(w, err, "user deletion failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSetStatus sets the account status.
func (h *UserHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	var req struct {
		Status Status `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.admin.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, err, "status update failed")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleToggleStatus flips the account status.
func (h *UserHandler) HandleToggleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	user, err := h.admin.ToggleStatus(r.Context(), id)
	if err != nil {
		writeError(w, err, "status update failed")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleSetTwoFactor sets the multi-factor flag.
func (h *UserHandler) HandleSetTwoFactor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled is required", "kind": "validation"})
		return
	}

	user, err := h.admin.SetTwoFactor(r.Context(), id, *req.Enabled)
	if err != nil {
		writeError(w, err, "two-factor update failed")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleResetCredential hands a replacement password to the credential
// store. The response never echoes it.
func (h *UserHandler) HandleResetCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}

	var req struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Password != req.ConfirmPassword {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "passwords do not match", "kind": "validation"})
		return
	}

	reset, err := h.admin.ResetCredential(r.Context(), id, req.Password)
	if err != nil {
		writeError(w, err, "credential reset failed")
		return
	}

	writeJSON(w, http.StatusOK, reset)
}

type accessResponse struct {
	rbac.Access
	Capability string         `json:"capability,omitempty"`
	Decision   *rbac.Decision `json:"decision,omitempty"`
}

// HandleAccess returns the user's effective permissions. With
// ?capability=X it also reports whether that capability is granted.
func (h *UserHandler) HandleAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "user")
	if !ok {
		return
	}
	if h.access == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "access evaluation not configured"})
		return
	}

	user, err := h.admin.GetUser(id)
	if err != nil {
		writeError(w, err, "fetching user failed")
		return
	}

	subject := &rbac.Subject{
		UserID:      user.ID,
		Role:        user.Role,
		Permissions: user.Permissions,
		Active:      user.Status == StatusActive,
	}
	resp := accessResponse{Access: h.access.EffectiveAccess(subject)}
	if capability := r.URL.Query().Get("capability"); capability != "" {
		decision, err := h.access.Authorize(r.Context(), subject, capability)
		if err != nil {
			writeError(w, err, "access evaluation failed")
			return
		}
		resp.Capability = capability
		resp.Decision = decision
	}

	writeJSON(w, http.StatusOK, resp)
}
