package trusted

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trustpipe/trustpipe/internal/audit"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
//
// It also exposes Insert so the in-memory ingestion store can promote events
// into it with the same (source, external id) uniqueness the database
// constraint provides.
type InMemoryRepository struct {
	mu     sync.RWMutex
	byID   map[int64]*Event
	byPair map[pairKey]int64
	order  []int64
	nextID int64

	auditRepo *audit.InMemoryRepository

	// patchHook, if set, runs between the audit write and the event update
	// during Patch. A returned error aborts the patch with neither write
	// applied. Test-only.
	patchHook func() error
}

type pairKey struct {
	sourceID   int64
	externalID string
}

// NewInMemoryRepository creates a new in-memory trusted event repository
// whose patch path appends to the given audit repository.
func NewInMemoryRepository(auditRepo *audit.InMemoryRepository) *InMemoryRepository {
	return &InMemoryRepository{
		byID:      make(map[int64]*Event),
		byPair:    make(map[pairKey]int64),
		nextID:    1,
		auditRepo: auditRepo,
	}
}

// SetPatchHook installs a fault-injection hook for Patch. Test helper.
func (r *InMemoryRepository) SetPatchHook(hook func() error) {
	r.patchHook = hook
}

// Insert creates a trusted event, enforcing (source, external id)
// uniqueness. Returns ErrDuplicatePair on violation.
func (r *InMemoryRepository) Insert(ctx context.Context, ev *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{ev.SourceID, ev.ExternalID}
	if _, exists := r.byPair[key]; exists {
		return ErrDuplicatePair
	}

	ev.ID = r.nextID
	r.nextID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	cp := *ev
	r.byID[ev.ID] = &cp
	r.byPair[key] = ev.ID
	r.order = append(r.order, ev.ID)
	return nil
}

// GetByID retrieves a trusted event.
func (r *InMemoryRepository) GetByID(ctx context.Context, id int64) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f Filter) matches(ev *Event) bool {
	if f.SourceID != nil && ev.SourceID != *f.SourceID {
		return false
	}
	if f.ExternalID != "" && ev.ExternalID != f.ExternalID {
		return false
	}
	if f.EventStatus != "" && ev.EventStatus != f.EventStatus {
		return false
	}
	if f.DateFrom != nil && ev.EventTimestamp.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && ev.EventTimestamp.After(*f.DateTo) {
		return false
	}
	return true
}

// List returns trusted events newest first with the pre-pagination total.
func (r *InMemoryRepository) List(ctx context.Context, f Filter) (int64, []*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Event
	for i := len(r.order) - 1; i >= 0; i-- {
		ev := r.byID[r.order[i]]
		if f.matches(ev) {
			cp := *ev
			matched = append(matched, &cp)
		}
	}

	total := int64(len(matched))
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	start := (page - 1) * size
	if start >= len(matched) {
		return total, nil, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return total, matched[start:end], nil
}

// Patch persists the event's mutated fields together with its audit entry.
// The audit write happens first; if either step fails nothing is applied.
func (r *InMemoryRepository) Patch(ctx context.Context, ev *Event, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[ev.ID]
	if !ok {
		return ErrEventNotFound
	}

	if err := r.auditRepo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if r.patchHook != nil {
		if err := r.patchHook(); err != nil {
			// Roll back the audit write to keep both sides consistent,
			// mirroring a database transaction abort.
			r.auditRepo.RemoveLast()
			return err
		}
	}

	stored.EventType = ev.EventType
	stored.EventStatus = ev.EventStatus
	return nil
}
