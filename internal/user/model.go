// Package user provides administrative account models and persistence.
package user

import (
	"context"
	"errors"
	"time"
)

// Roles form a closed set enforced by a database check constraint.
const (
	RoleAdmin    = "admin"
	RoleAnalyst  = "analyst"
	RoleOperator = "operator"
	RoleAuditor  = "auditor"
)

// ValidRoles is the closed set of administrative roles.
var ValidRoles = map[string]bool{
	RoleAdmin:    true,
	RoleAnalyst:  true,
	RoleOperator: true,
	RoleAuditor:  true,
}

// Common errors for user operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already taken")
	ErrInvalidRole  = errors.New("invalid role")
)

// User is an administrative identity. The password hash never leaves the
// persistence layer in API responses.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository defines the interface for user account persistence.
type Repository interface {
	// GetByUsername retrieves a user by username.
	// Returns ErrUserNotFound if absent.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByID retrieves a user by id. Returns ErrUserNotFound if absent.
	GetByID(ctx context.Context, id int64) (*User, error)

	// Insert creates a new user. Returns ErrUserExists on a duplicate
	// username and ErrInvalidRole for a role outside the closed set.
	Insert(ctx context.Context, u *User) error
}
