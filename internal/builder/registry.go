package builder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/storage"
)

// StoreLookup resolves symbols from a token metadata store.
type StoreLookup struct {
	store storage.TokenMetadataStore
}

// NewStoreLookup creates a new StoreLookup.
func NewStoreLookup(store storage.TokenMetadataStore) *StoreLookup {
	return &StoreLookup{store: store}
}

var _ MetadataLookup = (*StoreLookup)(nil)

// LookupSymbol implements MetadataLookup.
func (l *StoreLookup) LookupSymbol(ctx context.Context, symbol string) (Token, error) {
	m, err := l.store.GetBySymbol(ctx, symbol)
	if err != nil {
		return Token{}, err
	}
	if m.Decimals < 0 || m.Decimals > 255 {
		return Token{}, fmt.Errorf("token %s: invalid decimals %d", m.Symbol, m.Decimals)
	}
	return Token{Symbol: m.Symbol, Mint: m.Mint, Decimals: uint8(m.Decimals)}, nil
}

// RecordLaunch stores the token described by a launch result so later swaps
// can refer to it by symbol. A symbol or mint already on record is not an
// error.
func RecordLaunch(ctx context.Context, store storage.TokenMetadataStore, res *Result, creatorID string, now time.Time) error {
	if res == nil || res.Metadata[MetaMintAddress] == "" || res.Metadata[MetaSymbol] == "" {
		return fmt.Errorf("record launch: %w", storage.ErrInvalidInput)
	}
	md := res.Metadata

	decimals, err := strconv.Atoi(md[MetaDecimals])
	if err != nil {
		return fmt.Errorf("record launch: decimals: %w", err)
	}
	m := &domain.TokenMetadata{
		Mint:      md[MetaMintAddress],
		Symbol:    md[MetaSymbol],
		Name:      md[MetaName],
		Decimals:  decimals,
		CreatorID: creatorID,
		CreatedAt: now.UnixMilli(),
	}
	if v, err := strconv.ParseUint(md[MetaSupply], 10, 64); err == nil {
		m.Supply = &v
	}
	if uri := md[MetaMetadataURI]; uri != "" {
		m.MetadataURI = &uri
	}

	if err := store.Insert(ctx, m); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("record launch: %w", err)
	}
	return nil
}
