// Package security provides the append-only log of authentication and
// authorization failures. Security events are written outside the guarded
// operation's transaction so that a denied request still leaves a durable
// trace.
package security

import (
	"context"
	"time"
)

// Event types recorded by the access control guard.
const (
	EventAuthFailed   = "AUTH_FAILED"
	EventAccessDenied = "ACCESS_DENIED"
)

// Severity levels.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Event is a single security-relevant occurrence with its request context.
type Event struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	SourceID  *int64         `json:"source_id,omitempty"`
	UserID    *int64         `json:"user_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows security event listings. Zero values mean "no filter".
type Filter struct {
	Severity  string
	EventType string
	SourceID  *int64
	UserID    *int64
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// Repository defines the interface for security event persistence.
type Repository interface {
	// Insert records a security event. Implementations must persist the
	// event regardless of the outcome of the operation being guarded.
	Insert(ctx context.Context, ev *Event) error

	// List returns security events newest first, with the total count
	// before pagination.
	List(ctx context.Context, f Filter) (int64, []*Event, error)
}
