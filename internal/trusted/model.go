// Package trusted provides the authoritative store of validated events and
// the administrative patch flow that mutates them under audit.
package trusted

import (
	"context"
	"errors"
	"time"

	"github.com/trustpipe/trustpipe/internal/audit"
)

// Common errors for trusted event operations.
var (
	// ErrEventNotFound is returned when a trusted event does not exist.
	ErrEventNotFound = errors.New("trusted event not found")

	// ErrDuplicatePair is returned when an insert would violate the
	// uniqueness of (source_id, external_id). This is the store-level
	// safety net behind the dedup check.
	ErrDuplicatePair = errors.New("trusted event already exists for source and external id")
)

// Event is the validated, authoritative projection of an inbound event.
// At most one trusted event exists per raw ingestion and per
// (source, external id) pair.
type Event struct {
	ID             int64     `json:"id"`
	RawIngestionID int64     `json:"raw_ingestion_id"`
	SourceID       int64     `json:"source_id"`
	ExternalID     string    `json:"external_id"`
	EntityID       string    `json:"entity_id"`
	EventType      string    `json:"event_type"`
	EventStatus    string    `json:"event_status"`
	EventTimestamp time.Time `json:"event_timestamp"`
	CreatedAt      time.Time `json:"created_at"`
}

// Snapshot captures the auditable fields of the event.
func (e *Event) Snapshot() audit.Snapshot {
	return audit.Snapshot{
		EventStatus: e.EventStatus,
		EventType:   e.EventType,
		EntityID:    e.EntityID,
		ExternalID:  e.ExternalID,
	}
}

// Filter narrows trusted event listings. Zero values mean "no filter".
// Date bounds apply to the event timestamp, not the insertion time.
type Filter struct {
	SourceID    *int64
	ExternalID  string
	EventStatus string
	DateFrom    *time.Time
	DateTo      *time.Time
	Page        int
	PageSize    int
}

// Repository defines the interface for trusted event persistence.
// Creation is owned by the ingestion pipeline's store, not this interface.
type Repository interface {
	// GetByID retrieves a trusted event. Returns ErrEventNotFound if absent.
	GetByID(ctx context.Context, id int64) (*Event, error)

	// List returns trusted events newest first with the total count before
	// pagination.
	List(ctx context.Context, f Filter) (int64, []*Event, error)

	// Patch persists the event's mutated fields together with its audit
	// entry. Both writes commit or roll back as one unit.
	Patch(ctx context.Context, ev *Event, entry *audit.Entry) error
}
