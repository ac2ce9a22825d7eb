// Package audit provides the append-only ledger of administrative mutations
// to trusted events. Every privileged change carries a mandatory reason and
// before/after snapshots; entries are never updated or deleted.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ActionUpdate is the action kind recorded for administrative patches.
const ActionUpdate = "UPDATE"

// Common errors for audit operations.
var (
	// ErrEmptyReason is returned when a mutation is attempted without a
	// non-blank justification.
	ErrEmptyReason = errors.New("reason is required")
)

// Snapshot captures the mutable fields of a trusted event plus identity
// fields for context. Stored as JSONB.
type Snapshot struct {
	EventStatus string `json:"event_status"`
	EventType   string `json:"event_type"`
	EntityID    string `json:"entity_id"`
	ExternalID  string `json:"external_id"`
}

// Entry is one audit ledger row. UserID is nullable so that entries survive
// the removal of the acting user.
type Entry struct {
	ID             int64     `json:"id"`
	TrustedEventID int64     `json:"trusted_event_id"`
	UserID         *int64    `json:"user_id"`
	Action         string    `json:"action"`
	Reason         string    `json:"reason"`
	Before         Snapshot  `json:"before_data"`
	After          Snapshot  `json:"after_data"`
	RequestID      string    `json:"request_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidateReason trims the justification and rejects blank input. Returns
// the trimmed reason.
func ValidateReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return "", ErrEmptyReason
	}
	return trimmed, nil
}

// Filter narrows audit listings. Zero values mean "no filter".
type Filter struct {
	TrustedEventID *int64
	UserID         *int64
	DateFrom       *time.Time
	DateTo         *time.Time
	Page           int
	PageSize       int
}

// Repository defines the interface for audit ledger persistence.
type Repository interface {
	// Insert appends an entry to the ledger.
	Insert(ctx context.Context, e *Entry) error

	// List returns entries newest first with the total count before
	// pagination.
	List(ctx context.Context, f Filter) (int64, []*Entry, error)
}
