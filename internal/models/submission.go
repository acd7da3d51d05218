package models

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus tracks the review state of a submission. A submission
// leaves pending exactly once.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

type Submission struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	WorkerEmail string    `json:"worker_email"`

	// BuyerEmail and PayableAmount are captured from the task at claim time.
	// Review runs against these copies, never a live task lookup, so it
	// keeps working after the task is deleted.
	BuyerEmail    string `json:"buyer_email"`
	PayableAmount int    `json:"payable_amount"`

	Details    string           `json:"details"`
	Status     SubmissionStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty"`
}
