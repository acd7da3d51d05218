package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is the immutable record of a confirmed coin purchase. The
// TransactionID comes from the payment gateway and is unique, which is what
// makes the mint operation safe against redelivered callbacks.
type Purchase struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Coins         int       `json:"coins"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}
