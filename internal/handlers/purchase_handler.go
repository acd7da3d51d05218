package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/taskmint/backend/internal/middleware"
	"github.com/taskmint/backend/internal/models"
)

// MintEngine is the coin-minting surface exposed to the payment gateway
// confirmation flow.
type MintEngine interface {
	MintCoins(ctx context.Context, email string, coins int, transactionID string) (int, error)
}

type PurchaseReader interface {
	ListByEmail(ctx context.Context, email string) ([]*models.Purchase, error)
}

type PurchaseHandler struct {
	Engine    MintEngine
	Purchases PurchaseReader
	Logger    *slog.Logger
}

type confirmPurchaseRequest struct {
	Email         string `json:"email"`
	Coins         int    `json:"coins"`
	TransactionID string `json:"transaction_id"`
}

type confirmPurchaseResponse struct {
	Email   string `json:"email"`
	Coins   int    `json:"coins"`
	Balance int    `json:"balance"`
}

// Confirm handles POST /api/v1/purchases/confirm: the payment gateway's
// delivery-at-least-once callback. The transaction id makes retries safe; a
// replay gets 409 and no second credit.
func (h *PurchaseHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Email == "" || req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and transaction_id are required"})
		return
	}

	balance, err := h.Engine.MintCoins(r.Context(), req.Email, req.Coins, req.TransactionID)
	if err != nil {
		writeEngineError(w, h.Logger, "confirm purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, confirmPurchaseResponse{Email: req.Email, Coins: req.Coins, Balance: balance})
}

// ListMine handles GET /api/v1/purchases.
func (h *PurchaseHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	list, err := h.Purchases.ListByEmail(r.Context(), id.Email)
	if err != nil {
		writeEngineError(w, h.Logger, "list purchases", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
