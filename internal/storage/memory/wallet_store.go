package memory

import (
	"context"
	"sort"
	"sync"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

// WalletStore is an in-memory implementation of storage.WalletStore.
type WalletStore struct {
	mu        sync.RWMutex
	byID      map[string]*domain.Wallet // keyed by wallet id
	byAddress map[string]string         // public address -> wallet id
}

// NewWalletStore creates a new in-memory wallet store.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		byID:      make(map[string]*domain.Wallet),
		byAddress: make(map[string]string),
	}
}

// Insert adds a new wallet. Returns ErrDuplicateKey if id or address already exists.
func (s *WalletStore) Insert(_ context.Context, w *domain.Wallet) error {
	if w == nil || w.ID == "" || w.PublicAddress == "" || w.EncryptedSecret == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[w.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byAddress[w.PublicAddress]; exists {
		return storage.ErrDuplicateKey
	}

	walletCopy := *w
	s.byID[w.ID] = &walletCopy
	s.byAddress[w.PublicAddress] = w.ID
	return nil
}

// GetByID retrieves a wallet by ID. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByID(_ context.Context, walletID string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.byID[walletID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	walletCopy := *w
	return &walletCopy, nil
}

// GetByAddress retrieves a wallet by public address. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByAddress(_ context.Context, address string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byAddress[address]
	if !exists {
		return nil, storage.ErrNotFound
	}
	walletCopy := *s.byID[id]
	return &walletCopy, nil
}

// GetByOwner retrieves all wallets of an owner ordered by created_at ASC.
func (s *WalletStore) GetByOwner(_ context.Context, ownerID string) ([]*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Wallet
	for _, w := range s.byID {
		if w.OwnerID == ownerID {
			walletCopy := *w
			result = append(result, &walletCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SetDefault marks walletID as default for ownerID.
func (s *WalletStore) SetDefault(_ context.Context, ownerID, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, exists := s.byID[walletID]
	if !exists || target.OwnerID != ownerID {
		return storage.ErrNotFound
	}
	for _, w := range s.byID {
		if w.OwnerID == ownerID {
			w.IsDefault = w.ID == walletID
		}
	}
	return nil
}

var _ storage.WalletStore = (*WalletStore)(nil)
