package models

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawalStatus tracks a cash-out request. The coins are debited when the
// request is created; approval is administrative sign-off only.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
)

type Withdrawal struct {
	ID             uuid.UUID        `json:"id"`
	WorkerEmail    string           `json:"worker_email"`
	WithdrawalCoin int              `json:"withdrawal_coin"`
	PaymentMethod  string           `json:"payment_method"`
	AccountNumber  string           `json:"account_number"`
	Status         WithdrawalStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
}
