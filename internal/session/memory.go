package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore mirrors the Postgres store in process memory. Used by tests
// and local development without a database.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]Session // keyed by token digest

	// Now is the store's clock; tests override it to drive expiry.
	Now func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]Session),
		Now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, userID, ip, userAgent string) (string, Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", Session{}, err
	}
	token, err := NewToken()
	if err != nil {
		return "", Session{}, err
	}

	now := s.Now().UTC()
	sess := Session{
		ID:           id.String(),
		UserID:       userID,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
		IsActive:     true,
	}

	s.mu.Lock()
	s.sessions[hashToken(token)] = sess
	s.mu.Unlock()

	return token, sess, nil
}

func (s *MemoryStore) Validate(_ context.Context, token string) (*Session, error) {
	now := s.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashToken(token)
	sess, ok := s.sessions[key]
	if !ok || !sess.IsActive {
		return nil, nil
	}
	if !now.Before(sess.ExpiresAt) {
		sess.IsActive = false
		s.sessions[key] = sess
		return nil, nil
	}

	sess.LastActivity = now
	s.sessions[key] = sess
	out := sess
	return &out, nil
}

func (s *MemoryStore) Refresh(_ context.Context, token string) (time.Time, error) {
	now := s.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashToken(token)
	sess, ok := s.sessions[key]
	if !ok || !sess.ValidAt(now) {
		return time.Time{}, ErrInvalidSession
	}

	sess.ExpiresAt = now.Add(s.ttl)
	sess.LastActivity = now
	s.sessions[key] = sess

	return sess.ExpiresAt, nil
}

func (s *MemoryStore) Destroy(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashToken(token)
	if sess, ok := s.sessions[key]; ok {
		sess.IsActive = false
		s.sessions[key] = sess
	}
	return nil
}

func (s *MemoryStore) DestroyAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive {
			sess.IsActive = false
			s.sessions[key] = sess
		}
	}
	return nil
}

func (s *MemoryStore) CountActiveForUser(_ context.Context, userID string) (int, error) {
	now := s.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ValidAt(now) {
			count++
		}
	}
	return count, nil
}

// Expire rewrites the session's expiry, bypassing the lifecycle. Test hook.
func (s *MemoryStore) Expire(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashToken(token)
	if sess, ok := s.sessions[key]; ok {
		sess.ExpiresAt = expiresAt
		s.sessions[key] = sess
	}
}

func (s *MemoryStore) peek(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[hashToken(token)]
	return sess, ok
}
