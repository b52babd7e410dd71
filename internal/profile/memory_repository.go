package profile

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	phones   map[string]string
}

// NewMemoryRepository builds an in-memory profile store enforcing the same
// uniqueness rules as the profiles table.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		profiles: make(map[string]Profile),
		phones:   make(map[string]string),
	}
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.phones[phone]
	if !ok || phone == "" {
		return Profile{}, ErrNotFound
	}
	return r.profiles[id], nil
}

func (r *memoryRepository) Create(_ context.Context, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.ID]; exists {
		return ErrDuplicate
	}
	if _, taken := r.phones[p.Phone]; taken && p.Phone != "" {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.profiles[p.ID] = p
	if p.Phone != "" {
		r.phones[p.Phone] = p.ID
	}
	return nil
}

func (r *memoryRepository) Update(_ context.Context, id string, patch Patch) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	patch.Apply(&p)
	p.UpdatedAt = time.Now().UTC()
	r.profiles[id] = p
	return p, nil
}
