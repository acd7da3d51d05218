package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmint/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, buyer_email, title, detail, required_workers, payable_amount, total_cost, status, completion_date, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.BuyerEmail, &t.Title, &t.Detail, &t.RequiredWorkers, &t.PayableAmount, &t.TotalCost, &t.Status, &t.CompletionDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) Create(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO tasks (id, buyer_email, title, detail, required_workers, payable_amount, total_cost, status, completion_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, t.ID, t.BuyerEmail, t.Title, t.Detail, t.RequiredWorkers, t.PayableAmount, t.TotalCost, t.Status, t.CompletionDate).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetByIDForUpdate locks the task row for the rest of the transaction.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task for update: %w", err)
	}
	return t, nil
}

// ClaimSlot decrements required_workers by one, but only while the task is
// active and has an open slot. The condition and the decrement are a single
// UPDATE so concurrent claims on the last slot cannot both win. claimed is
// false when no row matched; the caller decides whether that means the task
// is gone or just full.
func (r *TaskRepo) ClaimSlot(ctx context.Context, tx pgx.Tx, id uuid.UUID) (t *models.Task, claimed bool, err error) {
	t, err = scanTask(tx.QueryRow(ctx, `
		UPDATE tasks SET required_workers = required_workers - 1, updated_at = now()
		WHERE id = $1 AND status = $2 AND required_workers > 0
		RETURNING `+taskColumns,
		id, models.TaskStatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim slot: %w", err)
	}
	return t, true, nil
}

// ReturnSlot gives a slot back after a rejection. returned is false when the
// task no longer exists or is not active any more.
func (r *TaskRepo) ReturnSlot(ctx context.Context, tx pgx.Tx, id uuid.UUID) (returned bool, err error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET required_workers = required_workers + 1, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, models.TaskStatusActive)
	if err != nil {
		return false, fmt.Errorf("return slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepo) Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepo) ListActive(ctx context.Context) ([]*models.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at DESC`, models.TaskStatusActive)
}

func (r *TaskRepo) ListByBuyer(ctx context.Context, buyerEmail string) ([]*models.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE buyer_email = $1 ORDER BY created_at DESC`, buyerEmail)
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
