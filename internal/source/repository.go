package source

import (
	"context"
	"sync"
	"time"
)

// InMemoryRegistry is an in-memory implementation of Registry.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Source
	nextID int64
}

// NewInMemoryRegistry creates a new in-memory source registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byName: make(map[string]*Source),
		nextID: 1,
	}
}

// ResolveOrCreate looks up a source by name, creating it if absent.
func (r *InMemoryRegistry) ResolveOrCreate(ctx context.Context, name string) (*Source, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if src, ok := r.byName[name]; ok {
		cp := *src
		return &cp, nil
	}

	now := time.Now().UTC()
	src := &Source{
		ID:        r.nextID,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.nextID++
	r.byName[name] = src

	cp := *src
	return &cp, nil
}

// Resolve looks up a source by name without creating it.
func (r *InMemoryRegistry) Resolve(ctx context.Context, name string) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.byName[name]
	if !ok {
		return nil, ErrSourceNotFound
	}
	cp := *src
	return &cp, nil
}

// Provision creates a source with a credential, or replaces the credential
// of an existing source.
func (r *InMemoryRegistry) Provision(ctx context.Context, name, apiKeyHash string) (*Source, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if src, ok := r.byName[name]; ok {
		src.APIKeyHash = apiKeyHash
		src.UpdatedAt = now
		cp := *src
		return &cp, nil
	}

	src := &Source{
		ID:         r.nextID,
		Name:       name,
		Status:     StatusActive,
		APIKeyHash: apiKeyHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.nextID++
	r.byName[name] = src

	cp := *src
	return &cp, nil
}

// SetStatus toggles a source's active flag. Test helper for exercising the
// inactive-source denial path.
func (r *InMemoryRegistry) SetStatus(name, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.byName[name]; ok {
		src.Status = status
		src.UpdatedAt = time.Now().UTC()
	}
}
