package directory

import (
	"net/http"
)

// RoleHandler handles role HTTP endpoints.
type RoleHandler struct {
	admin *Admin
}

// NewRoleHandler creates a new role handler.
func NewRoleHandler(admin *Admin) *RoleHandler {
	return &RoleHandler{admin: admin}
}

// HandleCreate creates a custom role.
func (h *RoleHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req NewRole
	if !decodeBody(w, r, &req) {
		return
	}

	role, err := h.admin.CreateRole(r.Context(), req)
	if err != nil {
		writeError(w, err, "role creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, role)
}

// HandleList returns all roles with their user counts.
func (h *RoleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.ListRoles())
}

// HandleGet returns a role by ID.
func (h *RoleHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "role")
	if !ok {
		return
	}

	role, err := h.admin.GetRole(id)
	if err != nil {
		writeError(w, err, "fetching role failed")
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// HandleUpdatePermissions replaces a role's permission set.
func (h *RoleHandler) HandleUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "role")
	if !ok {
		return
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	role, err := h.admin.UpdateRolePermissions(r.Context(), id, req.Permissions)
	if err != nil {
		writeError(w, err, "role update failed")
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// HandlePreviewDelete reports whether a role can be deleted and which users
// reference it.
func (h *RoleHandler) HandlePreviewDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "role")
	if !ok {
		return
	}

	preview, err := h.admin.PreviewDeleteRole(id)
	if err != nil {
		writeError(w, err, "role deletion preview failed")
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// HandleDelete removes a role that no user references.
func (h *RoleHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "role")
	if !ok {
		return
	}

	if err := h.admin.DeleteRole(r.Context(), id); err != nil {
		writeError(w, err, "role deletion failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
