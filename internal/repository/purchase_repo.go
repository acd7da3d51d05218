package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmint/backend/internal/models"
)

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

// Create appends the purchase record. The unique index on transaction_id is
// the idempotency guard: a redelivered payment callback hits
// ErrDuplicateTransaction here before any balance is touched.
func (r *PurchaseRepo) Create(ctx context.Context, tx pgx.Tx, p *models.Purchase) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO purchases (id, email, coins, transaction_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, p.ID, p.Email, p.Coins, p.TransactionID).Scan(&p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, p.TransactionID)
		}
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

func (r *PurchaseRepo) ListByEmail(ctx context.Context, email string) ([]*models.Purchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, coins, transaction_id, created_at
		FROM purchases WHERE email = $1 ORDER BY created_at DESC
	`, email)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()
	var list []*models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(&p.ID, &p.Email, &p.Coins, &p.TransactionID, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
