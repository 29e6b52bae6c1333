package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

// TokenMetadataStore implements storage.TokenMetadataStore using PostgreSQL.
type TokenMetadataStore struct {
	pool *Pool
}

// NewTokenMetadataStore creates a new TokenMetadataStore.
func NewTokenMetadataStore(pool *Pool) *TokenMetadataStore {
	return &TokenMetadataStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenMetadataStore = (*TokenMetadataStore)(nil)

const tokenColumns = `mint, symbol, name, decimals, supply, metadata_uri, creator_id, created_at`

// Insert adds a token. Returns ErrDuplicateKey if mint or symbol exists.
func (s *TokenMetadataStore) Insert(ctx context.Context, m *domain.TokenMetadata) error {
	if m == nil || m.Mint == "" || m.Symbol == "" {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO token_metadata (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var supply *int64
	if m.Supply != nil {
		v := int64(*m.Supply)
		supply = &v
	}

	_, err := s.pool.Exec(ctx, query,
		m.Mint,
		strings.ToUpper(m.Symbol),
		m.Name,
		m.Decimals,
		supply,
		m.MetadataURI,
		m.CreatorID,
		m.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token metadata: %w", err)
	}
	return nil
}

// GetByMint retrieves a token by mint address. Returns ErrNotFound if not exists.
func (s *TokenMetadataStore) GetByMint(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM token_metadata WHERE mint = $1`, mint)
	m, err := scanTokenMetadata(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token metadata by mint: %w", err)
	}
	return m, nil
}

// GetBySymbol retrieves a token by symbol. Returns ErrNotFound if not exists.
func (s *TokenMetadataStore) GetBySymbol(ctx context.Context, symbol string) (*domain.TokenMetadata, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM token_metadata WHERE upper(symbol) = upper($1)`, symbol)
	m, err := scanTokenMetadata(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token metadata by symbol: %w", err)
	}
	return m, nil
}

// scanTokenMetadata scans a single row into TokenMetadata.
func scanTokenMetadata(row pgx.Row) (*domain.TokenMetadata, error) {
	var (
		m      domain.TokenMetadata
		supply *int64
	)

	err := row.Scan(
		&m.Mint,
		&m.Symbol,
		&m.Name,
		&m.Decimals,
		&supply,
		&m.MetadataURI,
		&m.CreatorID,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if supply != nil {
		v := uint64(*supply)
		m.Supply = &v
	}

	return &m, nil
}
