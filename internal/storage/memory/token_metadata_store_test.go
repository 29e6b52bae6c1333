package memory

import (
	"context"
	"errors"
	"testing"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

func TestTokenMetadataStore_InsertAndGetByMint(t *testing.T) {
	store := NewTokenMetadataStore()
	ctx := context.Background()

	supply := uint64(1_000_000_000)
	uri := "https://meta.example/moon.json"

	meta := &domain.TokenMetadata{
		Mint:        "mint1",
		Symbol:      "moon",
		Name:        "Moon Cat",
		Decimals:    6,
		Supply:      &supply,
		MetadataURI: &uri,
		CreatorID:   "owner-1",
		CreatedAt:   1704067200000,
	}

	if err := store.Insert(ctx, meta); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	result, err := store.GetByMint(ctx, "mint1")
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}

	if result.Symbol != "MOON" {
		t.Errorf("Symbol mismatch: got %s, want MOON", result.Symbol)
	}
	if result.Name != "Moon Cat" {
		t.Errorf("Name mismatch: got %s, want Moon Cat", result.Name)
	}
	if *result.Supply != supply {
		t.Errorf("Supply mismatch: got %d, want %d", *result.Supply, supply)
	}
}

func TestTokenMetadataStore_GetBySymbol(t *testing.T) {
	store := NewTokenMetadataStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.TokenMetadata{Mint: "mint1", Symbol: "MOON", Decimals: 6}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	result, err := store.GetBySymbol(ctx, "Moon")
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if result.Mint != "mint1" {
		t.Errorf("Mint mismatch: got %s, want mint1", result.Mint)
	}

	_, err = store.GetBySymbol(ctx, "NOPE")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTokenMetadataStore_Duplicates(t *testing.T) {
	store := NewTokenMetadataStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.TokenMetadata{Mint: "mint1", Symbol: "MOON"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := store.Insert(ctx, &domain.TokenMetadata{Mint: "mint1", Symbol: "OTHER"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for mint, got %v", err)
	}

	err = store.Insert(ctx, &domain.TokenMetadata{Mint: "mint2", Symbol: "moon"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for symbol, got %v", err)
	}
}

func TestTokenMetadataStore_InvalidInput(t *testing.T) {
	store := NewTokenMetadataStore()
	ctx := context.Background()

	for _, m := range []*domain.TokenMetadata{nil, {Symbol: "X"}, {Mint: "m"}} {
		if err := store.Insert(ctx, m); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", m, err)
		}
	}
}

func TestTokenMetadataStore_GetByMint_NotFound(t *testing.T) {
	store := NewTokenMetadataStore()

	_, err := store.GetByMint(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
