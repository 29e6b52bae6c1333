package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

func TestTokenMetadataStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool)

	supply := uint64(1_000_000_000_000_000)
	uri := "https://meta.example/moon.json"
	metadata := &domain.TokenMetadata{
		Mint:        "MoonMint1111111111111111111111111111111111",
		Symbol:      "moon",
		Name:        "Moon Cat",
		Decimals:    6,
		Supply:      &supply,
		MetadataURI: &uri,
		CreatorID:   "owner-1",
		CreatedAt:   1700000000000,
	}
	require.NoError(t, store.Insert(ctx, metadata))

	byMint, err := store.GetByMint(ctx, metadata.Mint)
	require.NoError(t, err)
	assert.Equal(t, "MOON", byMint.Symbol)
	assert.Equal(t, metadata.Name, byMint.Name)
	assert.Equal(t, metadata.Decimals, byMint.Decimals)
	require.NotNil(t, byMint.Supply)
	assert.Equal(t, supply, *byMint.Supply)
	require.NotNil(t, byMint.MetadataURI)
	assert.Equal(t, uri, *byMint.MetadataURI)

	bySymbol, err := store.GetBySymbol(ctx, "Moon")
	require.NoError(t, err)
	assert.Equal(t, metadata.Mint, bySymbol.Mint)
}

func TestTokenMetadataStore_NullableColumns(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool)

	require.NoError(t, store.Insert(ctx, &domain.TokenMetadata{
		Mint: "PlainMint", Symbol: "PLN", Decimals: 9, CreatedAt: 1,
	}))

	m, err := store.GetByMint(ctx, "PlainMint")
	require.NoError(t, err)
	assert.Nil(t, m.Supply)
	assert.Nil(t, m.MetadataURI)
}

func TestTokenMetadataStore_Duplicates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool)

	require.NoError(t, store.Insert(ctx, &domain.TokenMetadata{Mint: "M1", Symbol: "DUP", CreatedAt: 1}))

	err := store.Insert(ctx, &domain.TokenMetadata{Mint: "M1", Symbol: "OTHER", CreatedAt: 1})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.Insert(ctx, &domain.TokenMetadata{Mint: "M2", Symbol: "dup", CreatedAt: 1})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTokenMetadataStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool)

	_, err := store.GetByMint(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetBySymbol(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
