package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle status of a task. Only active tasks accept
// submissions or carry a refundable escrow; anything else is closed.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
)

type Task struct {
	ID         uuid.UUID `json:"id"`
	BuyerEmail string    `json:"buyer_email"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail"`

	// RequiredWorkers is the count of open slots left, not the original
	// quota. It is decremented when a worker claims a slot and incremented
	// back when a submission is rejected.
	RequiredWorkers int `json:"required_workers"`

	// PayableAmount is the coins paid per approved submission.
	PayableAmount int `json:"payable_amount"`

	// TotalCost is the escrow reserved at creation:
	// initial required_workers × payable_amount.
	TotalCost int `json:"total_cost"`

	Status         TaskStatus `json:"status"`
	CompletionDate *time.Time `json:"completion_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
