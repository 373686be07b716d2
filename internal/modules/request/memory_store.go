// README: In-memory request store for local runs and tests.
package request

import (
	"context"
	"sync"
	"time"

	"freightmatch/internal/infra"
	"freightmatch/internal/types"
)

type MemoryStore struct {
	mu   sync.Mutex
	rows map[types.ID]Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[types.ID]Request)}
}

// journal registers a restore of row id with the enclosing unit of work.
// Callers hold s.mu.
func (s *MemoryStore) journal(ctx context.Context, id types.ID) {
	prev, existed := s.rows[id]
	infra.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.rows[id] = prev
		} else {
			delete(s.rows, id)
		}
	})
}

func (s *MemoryStore) Create(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal(ctx, r.ID)
	s.rows[r.ID] = *r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// GetForUpdate relies on the caller's request lock for exclusion.
func (s *MemoryStore) GetForUpdate(ctx context.Context, id types.ID) (*Request, error) {
	return s.Get(ctx, id)
}

func (s *MemoryStore) UpdateConstraints(ctx context.Context, id types.ID, version int, c Constraints, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != StatusPending || r.Version != version {
		return false, nil
	}
	s.journal(ctx, id)
	r.apply(c)
	r.MatchingState = MatchingQueued
	r.Version++
	r.UpdatedAt = at
	s.rows[id] = r
	return true, nil
}

func (s *MemoryStore) Activate(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	s.journal(ctx, id)
	r.Status = StatusActive
	r.ActivatedAt = &at
	r.UpdatedAt = at
	r.Version++
	s.rows[id] = r
	return true, nil
}

func (s *MemoryStore) SetMatchingState(ctx context.Context, id types.ID, state MatchingState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	s.journal(ctx, id)
	r.MatchingState = state
	r.UpdatedAt = at
	s.rows[id] = r
	return nil
}

// Put overwrites a row; tests use it to force states.
func (s *MemoryStore) Put(r Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[r.ID] = r
}
