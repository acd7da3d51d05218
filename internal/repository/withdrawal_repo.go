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

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

const withdrawalColumns = `id, worker_email, withdrawal_coin, payment_method, account_number, status, created_at, approved_at`

func scanWithdrawal(row pgx.Row) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(&w.ID, &w.WorkerEmail, &w.WithdrawalCoin, &w.PaymentMethod, &w.AccountNumber, &w.Status, &w.CreatedAt, &w.ApprovedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepo) Create(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO withdrawals (id, worker_email, withdrawal_coin, payment_method, account_number, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, w.ID, w.WorkerEmail, w.WithdrawalCoin, w.PaymentMethod, w.AccountNumber, w.Status).Scan(&w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create withdrawal: %w", err)
	}
	return nil
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

// Approve flips a pending withdrawal to approved. approved is false when the
// withdrawal was not pending, which makes a retried approval a detectable
// no-op instead of a second payout.
func (r *WithdrawalRepo) Approve(ctx context.Context, tx pgx.Tx, id uuid.UUID) (approved bool, err error) {
	tag, err := tx.Exec(ctx, `
		UPDATE withdrawals SET status = $2, approved_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.WithdrawalStatusApproved, models.WithdrawalStatusPending)
	if err != nil {
		return false, fmt.Errorf("approve withdrawal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WithdrawalRepo) ListByWorker(ctx context.Context, workerEmail string) ([]*models.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE worker_email = $1 ORDER BY created_at DESC`, workerEmail)
}

func (r *WithdrawalRepo) ListPending(ctx context.Context) ([]*models.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE status = $1 ORDER BY created_at ASC`, models.WithdrawalStatusPending)
}

func (r *WithdrawalRepo) list(ctx context.Context, query string, args ...any) ([]*models.Withdrawal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()
	var list []*models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}
