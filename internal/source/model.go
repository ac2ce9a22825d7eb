// Package source provides the registry of external systems authorized to
// submit events, including lazy auto-provisioning and credential storage.
package source

import (
	"context"
	"errors"
	"time"
)

// Source status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Common errors for source operations.
var (
	ErrSourceNotFound = errors.New("source not found")
	ErrEmptyName      = errors.New("source name cannot be empty")
)

// Source identifies an origin system. Sources are never deleted; raw
// ingestion rows reference them permanently.
type Source struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether the source may submit events.
func (s *Source) Active() bool {
	return s.Status == StatusActive
}

// Registry defines the interface for source persistence.
type Registry interface {
	// ResolveOrCreate looks up a source by name, creating it with
	// status=active and no credential if absent. Ingestion never fails
	// merely because a source name has not been seen before.
	ResolveOrCreate(ctx context.Context, name string) (*Source, error)

	// Resolve looks up a source by name without creating it.
	// Returns ErrSourceNotFound if absent.
	Resolve(ctx context.Context, name string) (*Source, error)

	// Provision creates a source with a stored credential hash, or replaces
	// the credential of an existing source of the same name.
	Provision(ctx context.Context, name, apiKeyHash string) (*Source, error)
}
