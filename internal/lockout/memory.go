package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore holds attempt records in process memory. Same semantics as the
// Postgres store; used by tests and by deployments that accept lockout state
// resetting on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, username string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[username]
	if !ok {
		return Record{Username: username}, nil
	}
	return rec, nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, username string, policy Policy, now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[username]
	if !ok {
		rec = Record{Username: username}
	}
	rec = policy.Apply(rec, now)
	s.records[username] = rec

	return rec, nil
}

func (s *MemoryStore) Reset(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, username)
	return nil
}

func (s *MemoryStore) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]Record)
	return nil
}

func (s *MemoryStore) ListLocked(_ context.Context, now time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var locked []Record
	for _, rec := range s.records {
		if rec.LockedAt(now) {
			locked = append(locked, rec)
		}
	}
	return locked, nil
}
