package security

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events []*Event
	nextID int64
}

// NewInMemoryRepository creates a new in-memory security event repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{nextID: 1}
}

// Insert records a security event.
func (r *InMemoryRepository) Insert(ctx context.Context, ev *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = r.nextID
	r.nextID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (f Filter) matches(ev *Event) bool {
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.SourceID != nil && (ev.SourceID == nil || *ev.SourceID != *f.SourceID) {
		return false
	}
	if f.UserID != nil && (ev.UserID == nil || *ev.UserID != *f.UserID) {
		return false
	}
	if f.DateFrom != nil && ev.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && ev.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

// List returns security events newest first with the pre-pagination total.
func (r *InMemoryRepository) List(ctx context.Context, f Filter) (int64, []*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if f.matches(r.events[i]) {
			cp := *r.events[i]
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

// Count returns the number of stored events. Test helper.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
