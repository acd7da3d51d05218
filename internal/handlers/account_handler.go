package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/taskmint/backend/internal/middleware"
	"github.com/taskmint/backend/internal/models"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type AccountHandler struct {
	Users  UserReader
	Logger *slog.Logger
}

type accountResponse struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
	Coins int         `json:"coins"`
}

// GetMe handles GET /api/v1/account/me: the caller's profile and balance.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	u, err := h.Users.GetByEmail(r.Context(), id.Email)
	if err != nil {
		writeEngineError(w, h.Logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
		Coins: u.Coins,
	})
}
