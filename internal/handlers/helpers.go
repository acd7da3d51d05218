// Package handlers serves the marketplace HTTP API over the ledger engine.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taskmint/backend/internal/ledger"
	"github.com/taskmint/backend/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps the engine's error kinds onto HTTP statuses. Anything
// unrecognized is a storage or internal failure and is never swallowed.
func writeEngineError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ledger.ErrTaskUnavailable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "task has no open slots or is not active"})
	case errors.Is(err, ledger.ErrAlreadyReviewed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "submission already reviewed"})
	case errors.Is(err, ledger.ErrAlreadyApproved):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "withdrawal already approved"})
	case errors.Is(err, ledger.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not the task owner"})
	case errors.Is(err, ledger.ErrInconsistent):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "request does not match stored submission"})
	case errors.Is(err, repository.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient balance"})
	case errors.Is(err, repository.ErrDuplicateTransaction):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "duplicate transaction"})
	case errors.Is(err, ledger.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "concurrent update, retry"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
	case repository.IsUnavailable(err):
		log.Error(op, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
	default:
		log.Error(op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
