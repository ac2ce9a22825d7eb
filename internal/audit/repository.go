package audit

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{nextID: 1}
}

// Insert appends an entry to the ledger.
func (r *InMemoryRepository) Insert(ctx context.Context, e *Entry) error {
	if _, err := ValidateReason(e.Reason); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = r.nextID
	r.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (f Filter) matches(e *Entry) bool {
	if f.TrustedEventID != nil && e.TrustedEventID != *f.TrustedEventID {
		return false
	}
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	if f.DateFrom != nil && e.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && e.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

// List returns entries newest first with the pre-pagination total.
func (r *InMemoryRepository) List(ctx context.Context, f Filter) (int64, []*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if f.matches(r.entries[i]) {
			cp := *r.entries[i]
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

// RemoveLast undoes the most recent insert. It exists so in-memory callers
// can emulate a transaction abort spanning the ledger and another store; the
// durable Postgres ledger has no counterpart.
func (r *InMemoryRepository) RemoveLast() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.entries); n > 0 {
		r.entries = r.entries[:n-1]
	}
}

// Count returns the number of ledger entries. Test helper.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
