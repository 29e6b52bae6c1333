package storage

import (
	"context"

	"solana-action-relay/internal/domain"
)

// WalletStore provides access to wallets storage. It is the only holder of
// encrypted secrets; nothing outside the wallet registry should use it.
type WalletStore interface {
	// Insert adds a new wallet. Returns ErrDuplicateKey if id or public address exists.
	Insert(ctx context.Context, w *domain.Wallet) error

	// GetByID retrieves a wallet by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, walletID string) (*domain.Wallet, error)

	// GetByAddress retrieves a wallet by public address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.Wallet, error)

	// GetByOwner retrieves all wallets of an owner, ordered by created_at ASC.
	GetByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error)

	// SetDefault marks walletID as the owner's default and clears the flag on
	// the owner's other wallets. Returns ErrNotFound if walletID does not exist.
	SetDefault(ctx context.Context, ownerID, walletID string) error
}

// SessionStore persists ActionSessions by session key. Callers serialize
// access per key; implementations only need to be safe for concurrent use
// across keys.
type SessionStore interface {
	// Get returns the session for key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (*domain.ActionSession, error)

	// Put creates or replaces the session stored under s.Key.
	Put(ctx context.Context, s *domain.ActionSession) error

	// Delete removes the session for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// RelayAttemptStore is an append-only log of relay attempts.
type RelayAttemptStore interface {
	// Insert records an attempt. Returns ErrDuplicateKey if attempt_id exists.
	Insert(ctx context.Context, a *domain.RelayAttempt) error

	// GetByWallet returns attempts for a wallet, ordered by submitted_at ASC.
	GetByWallet(ctx context.Context, wallet string) ([]*domain.RelayAttempt, error)

	// GetByPayloadHash returns every attempt made for the same signed payload.
	GetByPayloadHash(ctx context.Context, hash string) ([]*domain.RelayAttempt, error)
}

// TokenMetadataStore resolves tokens by mint or symbol.
type TokenMetadataStore interface {
	// Insert adds a token. Returns ErrDuplicateKey if mint or symbol exists.
	Insert(ctx context.Context, m *domain.TokenMetadata) error

	// GetByMint retrieves a token by mint address. Returns ErrNotFound if not exists.
	GetByMint(ctx context.Context, mint string) (*domain.TokenMetadata, error)

	// GetBySymbol retrieves a token by symbol, case-insensitively.
	// Returns ErrNotFound if not exists.
	GetBySymbol(ctx context.Context, symbol string) (*domain.TokenMetadata, error)
}
