package session

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Repository.Load when no session exists.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Repository persists session state keyed by entity id. Implementations must give
// read-your-writes consistency within one process. Delete of a missing session is
// not an error.
type Repository interface {
	Load(ctx context.Context, entityID string) (*State, error)
	Save(ctx context.Context, s *State) error
	Delete(ctx context.Context, entityID string) error
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*RedisRepository)(nil)
)

// MemoryRepository keeps deep copies of sessions in a map. Expired sessions are
// returned as-is; expiry handling belongs to the caller.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*State)}
}

// Load implements Repository.
func (r *MemoryRepository) Load(ctx context.Context, entityID string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Save implements Repository.
func (r *MemoryRepository) Save(ctx context.Context, s *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[s.EntityID] = s.Clone()
	r.mu.Unlock()
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, entityID)
	r.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
