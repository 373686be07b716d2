// README: In-memory match store for local runs and tests.
package matching

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"freightmatch/internal/infra"
	"freightmatch/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	rows   map[types.ID]Match
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[types.ID]Match)}
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

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return &m, nil
}

func (s *MemoryStore) ListByRequest(_ context.Context, requestID types.ID) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Match
	for _, m := range s.rows {
		if m.RequestID == requestID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, byCreation)
	return out, nil
}

func byCreation(a, b Match) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if a.Rank != b.Rank {
		return a.Rank - b.Rank
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

func (s *MemoryStore) UpsertProposal(ctx context.Context, m *Match) (types.ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cur := range s.rows {
		if cur.RequestID == m.RequestID && cur.CandidateID == m.CandidateID && cur.Status.Open() {
			s.journal(ctx, id)
			cur.Score, cur.Breakdown, cur.Rank, cur.UpdatedAt = m.Score, m.Breakdown, m.Rank, m.UpdatedAt
			s.rows[id] = cur
			return id, false, nil
		}
	}
	s.journal(ctx, m.ID)
	s.rows[m.ID] = *m
	return m.ID, true, nil
}

func (s *MemoryStore) Update(ctx context.Context, m *Match, version int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[m.ID]
	if !ok || !cur.Status.Open() || cur.Version != version {
		return false, nil
	}
	if m.Status == StatusAccepted {
		for id, other := range s.rows {
			if id != m.ID && other.RequestID == m.RequestID && other.Status == StatusAccepted {
				return false, ErrDuplicateAccept
			}
		}
	}
	s.journal(ctx, m.ID)
	next := *m
	next.Version = version + 1
	s.rows[m.ID] = next
	return true, nil
}

func (s *MemoryStore) RejectOpenSiblings(ctx context.Context, requestID, exceptID types.ID, reason string, at time.Time) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Match
	for id, m := range s.rows {
		if m.RequestID != requestID || id == exceptID || !m.Status.Open() {
			continue
		}
		s.journal(ctx, id)
		m.Status = StatusRejected
		m.RejectionReason = reason
		m.RejectedAt = &at
		m.UpdatedAt = at
		m.Version++
		s.rows[id] = m
		out = append(out, m)
	}
	slices.SortFunc(out, byCreation)
	return out, nil
}

// AppendEvent numbers events like a sequence; IDs are not reused after a rollback.
func (s *MemoryStore) AppendEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.events = append(s.events, *e)
	id := e.ID
	infra.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = slices.DeleteFunc(s.events, func(ev Event) bool { return ev.ID == id })
	})
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, matchID types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.MatchID == matchID {
			out = append(out, e)
		}
	}
	return out, nil
}
