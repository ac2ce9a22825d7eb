package user

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	byID   map[int64]*User
	byName map[string]int64
	nextID int64
}

// NewInMemoryRepository creates a new in-memory user repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:   make(map[int64]*User),
		byName: make(map[string]int64),
		nextID: 1,
	}
}

// GetByUsername retrieves a user by username.
func (r *InMemoryRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// GetByID retrieves a user by id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Insert creates a new user.
func (r *InMemoryRepository) Insert(ctx context.Context, u *User) error {
	if !ValidRoles[u.Role] {
		return ErrInvalidRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[u.Username]; exists {
		return ErrUserExists
	}

	u.ID = r.nextID
	r.nextID++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	cp := *u
	r.byID[u.ID] = &cp
	r.byName[u.Username] = u.ID
	return nil
}

// SetActive toggles a user's active flag. Test helper for exercising the
// inactive-user denial path.
func (r *InMemoryRepository) SetActive(id int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.IsActive = active
	}
}

// SetRole changes a user's role. Test helper for exercising demotion
// taking effect before token expiry.
func (r *InMemoryRepository) SetRole(id int64, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.Role = role
	}
}
