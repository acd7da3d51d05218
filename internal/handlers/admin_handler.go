package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/taskmint/backend/internal/models"
)

// UserAdminStore is the user-management surface for admin endpoints.
type UserAdminStore interface {
	List(ctx context.Context) ([]*models.User, error)
	SetRole(ctx context.Context, email string, role models.Role) error
	Delete(ctx context.Context, email string) error
}

type AdminHandler struct {
	Users  UserAdminStore
	Logger *slog.Logger
}

// ListUsers handles GET /api/v1/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		writeEngineError(w, h.Logger, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type setRoleRequest struct {
	Role models.Role `json:"role"`
}

// SetUserRole handles PUT /api/v1/admin/users/{email}/role.
func (h *AdminHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !req.Role.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
		return
	}

	if err := h.Users.SetRole(r.Context(), email, req.Role); err != nil {
		writeEngineError(w, h.Logger, "set user role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": email, "role": string(req.Role)})
}

// DeleteUser handles DELETE /api/v1/admin/users/{email}.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if err := h.Users.Delete(r.Context(), email); err != nil {
		writeEngineError(w, h.Logger, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
