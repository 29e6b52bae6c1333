package memory

import (
	"context"
	"sort"
	"sync"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

// RelayAttemptStore is an in-memory implementation of storage.RelayAttemptStore.
type RelayAttemptStore struct {
	mu       sync.RWMutex
	attempts []*domain.RelayAttempt
	ids      map[string]struct{}
}

// NewRelayAttemptStore creates a new in-memory relay attempt store.
func NewRelayAttemptStore() *RelayAttemptStore {
	return &RelayAttemptStore{
		ids: make(map[string]struct{}),
	}
}

// Insert records an attempt. Returns ErrDuplicateKey if attempt_id exists.
func (s *RelayAttemptStore) Insert(_ context.Context, a *domain.RelayAttempt) error {
	if a == nil || a.AttemptID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[a.AttemptID]; exists {
		return storage.ErrDuplicateKey
	}

	attemptCopy := *a
	s.attempts = append(s.attempts, &attemptCopy)
	s.ids[a.AttemptID] = struct{}{}
	return nil
}

// GetByWallet returns attempts for a wallet ordered by submitted_at ASC.
func (s *RelayAttemptStore) GetByWallet(_ context.Context, wallet string) ([]*domain.RelayAttempt, error) {
	return s.filter(func(a *domain.RelayAttempt) bool { return a.WalletAddress == wallet }), nil
}

// GetByPayloadHash returns every attempt made for the same signed payload.
func (s *RelayAttemptStore) GetByPayloadHash(_ context.Context, hash string) ([]*domain.RelayAttempt, error) {
	return s.filter(func(a *domain.RelayAttempt) bool { return a.PayloadHash == hash }), nil
}

func (s *RelayAttemptStore) filter(keep func(*domain.RelayAttempt) bool) []*domain.RelayAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RelayAttempt
	for _, a := range s.attempts {
		if keep(a) {
			attemptCopy := *a
			result = append(result, &attemptCopy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].SubmittedAt != result[j].SubmittedAt {
			return result[i].SubmittedAt < result[j].SubmittedAt
		}
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result
}

var _ storage.RelayAttemptStore = (*RelayAttemptStore)(nil)
