package memory

import (
	"context"
	"strings"
	"sync"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

// TokenMetadataStore is an in-memory implementation of storage.TokenMetadataStore.
type TokenMetadataStore struct {
	mu       sync.RWMutex
	byMint   map[string]*domain.TokenMetadata // keyed by mint
	bySymbol map[string]*domain.TokenMetadata // keyed by upper-case symbol
}

// NewTokenMetadataStore creates a new in-memory token metadata store.
func NewTokenMetadataStore() *TokenMetadataStore {
	return &TokenMetadataStore{
		byMint:   make(map[string]*domain.TokenMetadata),
		bySymbol: make(map[string]*domain.TokenMetadata),
	}
}

// Insert adds a token. Returns ErrDuplicateKey if mint or symbol already exists.
func (s *TokenMetadataStore) Insert(_ context.Context, m *domain.TokenMetadata) error {
	if m == nil || m.Mint == "" || m.Symbol == "" {
		return storage.ErrInvalidInput
	}
	symbol := strings.ToUpper(m.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byMint[m.Mint]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.bySymbol[symbol]; exists {
		return storage.ErrDuplicateKey
	}

	metaCopy := *m
	metaCopy.Symbol = symbol
	s.byMint[m.Mint] = &metaCopy
	s.bySymbol[symbol] = &metaCopy
	return nil
}

// GetByMint retrieves a token by mint address. Returns ErrNotFound if not exists.
func (s *TokenMetadataStore) GetByMint(_ context.Context, mint string) (*domain.TokenMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.byMint[mint]
	if !exists {
		return nil, storage.ErrNotFound
	}

	metaCopy := *m
	return &metaCopy, nil
}

// GetBySymbol retrieves a token by symbol. Returns ErrNotFound if not exists.
func (s *TokenMetadataStore) GetBySymbol(_ context.Context, symbol string) (*domain.TokenMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.bySymbol[strings.ToUpper(symbol)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	metaCopy := *m
	return &metaCopy, nil
}

var _ storage.TokenMetadataStore = (*TokenMetadataStore)(nil)
