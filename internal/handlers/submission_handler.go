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

// SubmissionEngine is the subset of ledger engine operations the submission
// handler uses.
type SubmissionEngine interface {
	SubmitToTask(ctx context.Context, taskID uuid.UUID, workerEmail, details string) (*models.Submission, error)
	ApproveSubmission(ctx context.Context, submissionID uuid.UUID, reviewerEmail, workerEmail string, amount int) (*models.Submission, error)
	RejectSubmission(ctx context.Context, submissionID uuid.UUID, reviewerEmail string) (*models.Submission, error)
}

type SubmissionReader interface {
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Submission, error)
	ListByWorker(ctx context.Context, workerEmail string) ([]*models.Submission, error)
}

type SubmissionHandler struct {
	Engine      SubmissionEngine
	Submissions SubmissionReader
	Logger      *slog.Logger
}

type submitRequest struct {
	Details string `json:"details"`
}

// Submit handles POST /api/v1/tasks/{id}/submissions: a worker claims a slot.
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sub, err := h.Engine.SubmitToTask(r.Context(), taskID, id.Email, req.Details)
	if err != nil {
		writeEngineError(w, h.Logger, "submit to task", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type approveSubmissionRequest struct {
	WorkerEmail   string `json:"worker_email"`
	PayableAmount int    `json:"payable_amount"`
}

// Approve handles POST /api/v1/submissions/{id}/approve. The request echoes
// the worker and amount; a mismatch against the stored submission is rejected
// so a stale client cannot misdirect the payout.
func (h *SubmissionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	subID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid submission id"})
		return
	}

	var req approveSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	sub, err := h.Engine.ApproveSubmission(r.Context(), subID, id.Email, req.WorkerEmail, req.PayableAmount)
	if err != nil {
		writeEngineError(w, h.Logger, "approve submission", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Reject handles POST /api/v1/submissions/{id}/reject. The worker was never
// charged, so no coins move; the slot goes back to the task if it is still
// active.
func (h *SubmissionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	subID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid submission id"})
		return
	}

	sub, err := h.Engine.RejectSubmission(r.Context(), subID, id.Email)
	if err != nil {
		writeEngineError(w, h.Logger, "reject submission", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ListByTask handles GET /api/v1/tasks/{id}/submissions.
func (h *SubmissionHandler) ListByTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}
	subs, err := h.Submissions.ListByTask(r.Context(), taskID)
	if err != nil {
		writeEngineError(w, h.Logger, "list submissions by task", err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// ListMine handles GET /api/v1/submissions: the worker's own submissions.
func (h *SubmissionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	subs, err := h.Submissions.ListByWorker(r.Context(), id.Email)
	if err != nil {
		writeEngineError(w, h.Logger, "list submissions", err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}
