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

type SubmissionRepo struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepo(pool *pgxpool.Pool) *SubmissionRepo {
	return &SubmissionRepo{pool: pool}
}

const submissionColumns = `id, task_id, worker_email, buyer_email, payable_amount, details, status, created_at, reviewed_at`

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var s models.Submission
	err := row.Scan(&s.ID, &s.TaskID, &s.WorkerEmail, &s.BuyerEmail, &s.PayableAmount, &s.Details, &s.Status, &s.CreatedAt, &s.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepo) Create(ctx context.Context, tx pgx.Tx, s *models.Submission) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO submissions (id, task_id, worker_email, buyer_email, payable_amount, details, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, s.ID, s.TaskID, s.WorkerEmail, s.BuyerEmail, s.PayableAmount, s.Details, s.Status).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return s, nil
}

// MarkReviewed moves a submission out of pending. The status guard in the
// WHERE clause is what makes a second review of the same submission lose:
// reviewed is false when the submission was no longer pending.
func (r *SubmissionRepo) MarkReviewed(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.SubmissionStatus) (reviewed bool, err error) {
	tag, err := tx.Exec(ctx, `
		UPDATE submissions SET status = $2, reviewed_at = now()
		WHERE id = $1 AND status = $3
	`, id, status, models.SubmissionStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark reviewed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RejectPendingByTask rejects every pending submission against a task.
// Used when the task itself is deleted, so the submissions do not linger
// unreviewable.
func (r *SubmissionRepo) RejectPendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE submissions SET status = $2, reviewed_at = now()
		WHERE task_id = $1 AND status = $3
	`, taskID, models.SubmissionStatusRejected, models.SubmissionStatusPending)
	if err != nil {
		return 0, fmt.Errorf("reject pending by task: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SubmissionRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Submission, error) {
	return r.list(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id = $1 ORDER BY created_at DESC`, taskID)
}

func (r *SubmissionRepo) ListByWorker(ctx context.Context, workerEmail string) ([]*models.Submission, error) {
	return r.list(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE worker_email = $1 ORDER BY created_at DESC`, workerEmail)
}

func (r *SubmissionRepo) list(ctx context.Context, query string, args ...any) ([]*models.Submission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	var list []*models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
