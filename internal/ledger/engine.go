// Package ledger is the coin ledger engine. Every mutation that spans more
// than one entity — claiming a task slot, reviewing a submission, deleting a
// task, cashing out, minting purchased coins — goes through here and commits
// atomically, so coins are never created or destroyed without the matching
// entity transition.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskmint/backend/internal/models"
	"github.com/taskmint/backend/internal/payout"
)

// UserStore is the coin account surface the engine needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	CreditCoins(ctx context.Context, tx pgx.Tx, email string, amount int) (int, error)
	DebitCoins(ctx context.Context, tx pgx.Tx, email string, amount int) (int, error)
}

type TaskStore interface {
	Create(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	ClaimSlot(ctx context.Context, tx pgx.Tx, id uuid.UUID) (t *models.Task, claimed bool, err error)
	ReturnSlot(ctx context.Context, tx pgx.Tx, id uuid.UUID) (returned bool, err error)
	Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type SubmissionStore interface {
	Create(ctx context.Context, tx pgx.Tx, s *models.Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	MarkReviewed(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.SubmissionStatus) (reviewed bool, err error)
	RejectPendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (int64, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	Approve(ctx context.Context, tx pgx.Tx, id uuid.UUID) (approved bool, err error)
}

type PurchaseStore interface {
	Create(ctx context.Context, tx pgx.Tx, p *models.Purchase) error
}

// InsertPayoutTxFunc enqueues a payout job within the given transaction.
// Typically a closure over river.Client.InsertTx, wired in main.
type InsertPayoutTxFunc func(ctx context.Context, tx pgx.Tx, args payout.JobArgs) error

// Engine orchestrates all cross-entity coin transitions.
type Engine struct {
	db           TxBeginner
	users        UserStore
	tasks        TaskStore
	submissions  SubmissionStore
	withdrawals  WithdrawalStore
	purchases    PurchaseStore
	insertPayout InsertPayoutTxFunc
	log          *slog.Logger
}

// New creates the engine. insertPayout may be nil when no job queue is wired
// (tests); withdrawal approval then skips the payout hand-off.
func New(
	db TxBeginner,
	users UserStore,
	tasks TaskStore,
	submissions SubmissionStore,
	withdrawals WithdrawalStore,
	purchases PurchaseStore,
	insertPayout InsertPayoutTxFunc,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		db:           db,
		users:        users,
		tasks:        tasks,
		submissions:  submissions,
		withdrawals:  withdrawals,
		purchases:    purchases,
		insertPayout: insertPayout,
		log:          log,
	}
}

// CreateTask posts a task and escrows its full cost from the buyer in the
// same transaction. The debit is conditional on the balance covering
// total_cost, so a buyer can never escrow coins they don't have.
func (e *Engine) CreateTask(ctx context.Context, buyerEmail, title, detail string, requiredWorkers, payableAmount int, completionDate *time.Time) (*models.Task, error) {
	if requiredWorkers <= 0 || payableAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	task := &models.Task{
		ID:              uuid.New(),
		BuyerEmail:      buyerEmail,
		Title:           title,
		Detail:          detail,
		RequiredWorkers: requiredWorkers,
		PayableAmount:   payableAmount,
		TotalCost:       requiredWorkers * payableAmount,
		Status:          models.TaskStatusActive,
		CompletionDate:  completionDate,
	}

	err := e.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := e.users.DebitCoins(ctx, tx, buyerEmail, task.TotalCost); err != nil {
			return err
		}
		return e.tasks.Create(ctx, tx, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SubmitToTask claims one worker slot and records a pending submission. The
// slot check and the decrement are a single conditional update, so N workers
// racing for the last slot produce exactly one submission.
func (e *Engine) SubmitToTask(ctx context.Context, taskID uuid.UUID, workerEmail, details string) (*models.Submission, error) {
	var sub *models.Submission
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		task, claimed, err := e.tasks.ClaimSlot(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !claimed {
			// Distinguish a missing task from a full or closed one.
			if _, err := e.tasks.GetByID(ctx, taskID); err != nil {
				return err
			}
			return ErrTaskUnavailable
		}

		sub = &models.Submission{
			ID:            uuid.New(),
			TaskID:        task.ID,
			WorkerEmail:   workerEmail,
			BuyerEmail:    task.BuyerEmail,
			PayableAmount: task.PayableAmount,
			Details:       details,
			Status:        models.SubmissionStatusPending,
		}
		return e.submissions.Create(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ApproveSubmission pays the worker the amount captured at claim time and
// marks the submission approved. The task's slot count is untouched: the slot
// was consumed when the submission was made. workerEmail and amount are
// echoed by the caller and must match the stored submission, so a stale
// client cannot over- or under-pay.
func (e *Engine) ApproveSubmission(ctx context.Context, submissionID uuid.UUID, reviewerEmail, workerEmail string, amount int) (*models.Submission, error) {
	sub, err := e.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.BuyerEmail != reviewerEmail {
		return nil, ErrNotOwner
	}
	if sub.WorkerEmail != workerEmail || sub.PayableAmount != amount {
		return nil, ErrInconsistent
	}

	err = e.inTx(ctx, func(tx pgx.Tx) error {
		reviewed, err := e.submissions.MarkReviewed(ctx, tx, submissionID, models.SubmissionStatusApproved)
		if err != nil {
			return err
		}
		if !reviewed {
			return ErrAlreadyReviewed
		}
		_, err = e.users.CreditCoins(ctx, tx, sub.WorkerEmail, sub.PayableAmount)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub.Status = models.SubmissionStatusApproved
	sub.ReviewedAt = &now
	return sub, nil
}

// RejectSubmission marks the submission rejected and returns its slot to the
// task. The worker was never charged, so no coins move. If the task was
// deleted or closed in the meantime the slot return is skipped: the rejection
// itself still stands, and the skip is logged as a recoverable anomaly.
func (e *Engine) RejectSubmission(ctx context.Context, submissionID uuid.UUID, reviewerEmail string) (*models.Submission, error) {
	sub, err := e.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.BuyerEmail != reviewerEmail {
		return nil, ErrNotOwner
	}

	err = e.inTx(ctx, func(tx pgx.Tx) error {
		reviewed, err := e.submissions.MarkReviewed(ctx, tx, submissionID, models.SubmissionStatusRejected)
		if err != nil {
			return err
		}
		if !reviewed {
			return ErrAlreadyReviewed
		}
		returned, err := e.tasks.ReturnSlot(ctx, tx, sub.TaskID)
		if err != nil {
			return err
		}
		if !returned {
			e.log.Warn("slot not returned on rejection, task deleted or closed",
				"task_id", sub.TaskID, "submission_id", submissionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub.Status = models.SubmissionStatusRejected
	sub.ReviewedAt = &now
	return sub, nil
}

// DeleteTask removes a task. Pending submissions against the task are
// cascade-rejected in the same transaction so they do not linger
// unreviewable; each rejection returns its slot, so while the task is still
// active the refund covers the open slots plus the just-rejected ones.
// Coins already paid for approved submissions stay paid. Returns the
// refunded amount.
func (e *Engine) DeleteTask(ctx context.Context, taskID uuid.UUID) (int, error) {
	var refund int
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		task, err := e.tasks.GetByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}

		rejected, err := e.submissions.RejectPendingByTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if rejected > 0 {
			e.log.Info("cascade-rejected pending submissions of deleted task",
				"task_id", taskID, "count", rejected)
		}

		refund = 0
		if task.Status == models.TaskStatusActive {
			// Rejected slots count as returned: their escrow was never
			// disbursed, so it flows back with the rest.
			refund = (task.RequiredWorkers + int(rejected)) * task.PayableAmount
			if refund > 0 {
				if _, err := e.users.CreditCoins(ctx, tx, task.BuyerEmail, refund); err != nil {
					return err
				}
			}
		}

		return e.tasks.Delete(ctx, tx, taskID)
	})
	if err != nil {
		return 0, err
	}
	return refund, nil
}

// RequestWithdrawal debits the worker's balance and records a pending
// withdrawal in one transaction. The debit is conditional on the balance, so
// two concurrent requests cannot both spend the same coins.
func (e *Engine) RequestWithdrawal(ctx context.Context, workerEmail string, coins int, paymentMethod, accountNumber string) (*models.Withdrawal, error) {
	if coins <= 0 {
		return nil, ErrInvalidAmount
	}

	w := &models.Withdrawal{
		ID:             uuid.New(),
		WorkerEmail:    workerEmail,
		WithdrawalCoin: coins,
		PaymentMethod:  paymentMethod,
		AccountNumber:  accountNumber,
		Status:         models.WithdrawalStatusPending,
	}

	err := e.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := e.users.DebitCoins(ctx, tx, workerEmail, coins); err != nil {
			return err
		}
		return e.withdrawals.Create(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ApproveWithdrawal flips a pending withdrawal to approved. The coins were
// already debited at request time, so no balance changes here; the payout job
// is enqueued in the same transaction and the off-platform transfer happens
// asynchronously.
func (e *Engine) ApproveWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*models.Withdrawal, error) {
	w, err := e.withdrawals.GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}

	err = e.inTx(ctx, func(tx pgx.Tx) error {
		approved, err := e.withdrawals.Approve(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if !approved {
			return ErrAlreadyApproved
		}
		if e.insertPayout == nil {
			return nil
		}
		return e.insertPayout(ctx, tx, payout.JobArgs{
			WithdrawalID:  w.ID,
			WorkerEmail:   w.WorkerEmail,
			Coins:         w.WithdrawalCoin,
			PaymentMethod: w.PaymentMethod,
			AccountNumber: w.AccountNumber,
		})
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	w.Status = models.WithdrawalStatusApproved
	w.ApprovedAt = &now
	return w, nil
}

// MintCoins credits purchased coins exactly once per payment transaction.
// The purchase record keyed by the gateway's transaction id is inserted
// before the credit; a redelivered callback fails on the unique key and the
// balance is untouched. Returns the new balance.
func (e *Engine) MintCoins(ctx context.Context, email string, coins int, transactionID string) (int, error) {
	if coins <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		p := &models.Purchase{
			ID:            uuid.New(),
			Email:         email,
			Coins:         coins,
			TransactionID: transactionID,
		}
		if err := e.purchases.Create(ctx, tx, p); err != nil {
			return err
		}
		var err error
		balance, err = e.users.CreditCoins(ctx, tx, email, coins)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
