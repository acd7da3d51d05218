// Package payout hands approved withdrawals off to the external payment
// gateway. The job is enqueued inside the approval transaction, so a
// withdrawal is either approved with a payout queued or neither.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/riverqueue/river"
)

type JobArgs struct {
	WithdrawalID  uuid.UUID `json:"withdrawal_id"`
	WorkerEmail   string    `json:"worker_email"`
	Coins         int       `json:"coins"`
	PaymentMethod string    `json:"payment_method"`
	AccountNumber string    `json:"account_number"`
}

func (JobArgs) Kind() string { return "withdrawal_payout" }

type Worker struct {
	river.WorkerDefaults[JobArgs]
	gatewayURL string
	client     *retryablehttp.Client
	log        *slog.Logger
}

// NewWorker creates the payout worker. gatewayURL may be empty, in which case
// payouts are logged but not dispatched (local development).
func NewWorker(gatewayURL string, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	return &Worker{gatewayURL: gatewayURL, client: client, log: log}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[JobArgs]) error {
	args := job.Args

	if w.gatewayURL == "" {
		w.log.Info("payout gateway not configured, payout recorded only",
			"withdrawal_id", args.WithdrawalID, "coins", args.Coins)
		return nil
	}

	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal payout: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("payout gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payout gateway returned status %d", resp.StatusCode)
	}

	w.log.Info("payout dispatched",
		"withdrawal_id", args.WithdrawalID, "worker_email", args.WorkerEmail, "coins", args.Coins)
	return nil
}
