package models

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies what a user can do on the platform.
type Role string

const (
	RoleWorker Role = "worker"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleWorker, RoleBuyer, RoleAdmin:
		return true
	}
	return false
}

// StartingCoins is the signup grant for each role.
func StartingCoins(r Role) int {
	switch r {
	case RoleWorker:
		return 10
	case RoleBuyer:
		return 50
	default:
		return 0
	}
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Coins        int       `json:"coins"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
