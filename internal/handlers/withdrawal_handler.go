package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskmint/backend/internal/middleware"
	"github.com/taskmint/backend/internal/models"
)

// WithdrawalEngine is the subset of ledger engine operations the withdrawal
// handler uses.
type WithdrawalEngine interface {
	RequestWithdrawal(ctx context.Context, workerEmail string, coins int, paymentMethod, accountNumber string) (*models.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*models.Withdrawal, error)
}

type WithdrawalReader interface {
	ListByWorker(ctx context.Context, workerEmail string) ([]*models.Withdrawal, error)
	ListPending(ctx context.Context) ([]*models.Withdrawal, error)
}

type WithdrawalHandler struct {
	Engine      WithdrawalEngine
	Withdrawals WithdrawalReader
	Logger      *slog.Logger
}

type requestWithdrawalRequest struct {
	WithdrawalCoin int    `json:"withdrawal_coin"`
	PaymentMethod  string `json:"payment_method"`
	AccountNumber  string `json:"account_number"`
}

// Request handles POST /api/v1/withdrawals. The coins leave the worker's
// balance immediately; approval later is sign-off only.
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req requestWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	wd, err := h.Engine.RequestWithdrawal(r.Context(), id.Email, req.WithdrawalCoin, req.PaymentMethod, req.AccountNumber)
	if err != nil {
		writeEngineError(w, h.Logger, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// Approve handles POST /api/v1/withdrawals/{id}/approve (admin only, via
// middleware).
func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	wdID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid withdrawal id"})
		return
	}

	wd, err := h.Engine.ApproveWithdrawal(r.Context(), wdID)
	if err != nil {
		writeEngineError(w, h.Logger, "approve withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// ListMine handles GET /api/v1/withdrawals: the worker's own requests.
func (h *WithdrawalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	list, err := h.Withdrawals.ListByWorker(r.Context(), id.Email)
	if err != nil {
		writeEngineError(w, h.Logger, "list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListPending handles GET /api/v1/withdrawals/pending (admin only, via
// middleware).
func (h *WithdrawalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	list, err := h.Withdrawals.ListPending(r.Context())
	if err != nil {
		writeEngineError(w, h.Logger, "list pending withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
