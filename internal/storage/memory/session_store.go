package memory

import (
	"context"
	"sync"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ActionSession
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.ActionSession),
	}
}

// Get returns the session for key. Returns ErrNotFound if absent.
func (s *SessionStore) Get(_ context.Context, key string) (*domain.ActionSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return sess.Clone(), nil
}

// Put creates or replaces the session stored under sess.Key.
func (s *SessionStore) Put(_ context.Context, sess *domain.ActionSession) error {
	if sess == nil || sess.Key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.Key] = sess.Clone()
	return nil
}

// Delete removes the session for key.
func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var _ storage.SessionStore = (*SessionStore)(nil)
