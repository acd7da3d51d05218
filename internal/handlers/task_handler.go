package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskmint/backend/internal/middleware"
	"github.com/taskmint/backend/internal/models"
)

// TaskEngine is the subset of ledger engine operations the task handler uses.
type TaskEngine interface {
	CreateTask(ctx context.Context, buyerEmail, title, detail string, requiredWorkers, payableAmount int, completionDate *time.Time) (*models.Task, error)
	DeleteTask(ctx context.Context, taskID uuid.UUID) (int, error)
}

// TaskReader serves the read-only task endpoints.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListActive(ctx context.Context) ([]*models.Task, error)
	ListByBuyer(ctx context.Context, buyerEmail string) ([]*models.Task, error)
}

type TaskHandler struct {
	Engine TaskEngine
	Tasks  TaskReader
	Logger *slog.Logger
}

type createTaskRequest struct {
	Title           string     `json:"title"`
	Detail          string     `json:"detail"`
	RequiredWorkers int        `json:"required_workers"`
	PayableAmount   int        `json:"payable_amount"`
	CompletionDate  *time.Time `json:"completion_date,omitempty"`
}

// CreateTask handles POST /api/v1/tasks. The buyer's escrow (required_workers
// × payable_amount) is debited atomically with the insert.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}

	task, err := h.Engine.CreateTask(r.Context(), id.Email, req.Title, req.Detail, req.RequiredWorkers, req.PayableAmount, req.CompletionDate)
	if err != nil {
		writeEngineError(w, h.Logger, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// ListTasks handles GET /api/v1/tasks. Buyers see their own tasks, everyone
// else sees the active board.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var (
		tasks []*models.Task
		err   error
	)
	if id.Role == models.RoleBuyer {
		tasks, err = h.Tasks.ListByBuyer(r.Context(), id.Email)
	} else {
		tasks, err = h.Tasks.ListActive(r.Context())
	}
	if err != nil {
		writeEngineError(w, h.Logger, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeEngineError(w, h.Logger, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}. Only the owning buyer or an
// admin may delete; the unconsumed escrow flows back to the buyer.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
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

	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeEngineError(w, h.Logger, "delete task", err)
		return
	}
	if id.Role != models.RoleAdmin && task.BuyerEmail != id.Email {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not the task owner"})
		return
	}

	refund, err := h.Engine.DeleteTask(r.Context(), taskID)
	if err != nil {
		writeEngineError(w, h.Logger, "delete task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID.String(), "refunded": refund})
}
