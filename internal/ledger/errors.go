package ledger

import "errors"

// Engine error kinds. Storage-level kinds (not found, insufficient balance,
// duplicate transaction) come from the repository package unmodified; these
// cover the transition semantics the engine itself enforces.
var (
	// ErrTaskUnavailable is returned when a task exists but has no open
	// slots or is no longer active.
	ErrTaskUnavailable = errors.New("task has no open slots or is not active")

	// ErrAlreadyReviewed is returned when a submission has already left
	// pending. The first review won; the retry changed nothing.
	ErrAlreadyReviewed = errors.New("submission already reviewed")

	// ErrAlreadyApproved is returned when a withdrawal is not pending.
	ErrAlreadyApproved = errors.New("withdrawal already approved")

	// ErrInconsistent is returned when the caller-supplied worker or amount
	// disagrees with what the submission captured at claim time.
	ErrInconsistent = errors.New("request does not match stored submission")

	// ErrNotOwner is returned when the reviewer is not the buyer the
	// submission was made against.
	ErrNotOwner = errors.New("reviewer is not the task owner")

	// ErrInvalidAmount is returned for non-positive coin amounts or slot
	// counts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrConflict is returned when an operation repeatedly lost the race on
	// its rows. Nothing was applied; the caller may retry.
	ErrConflict = errors.New("conflicting concurrent update")
)
