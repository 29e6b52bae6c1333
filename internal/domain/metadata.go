package domain

// TokenMetadata is a token known to the service by symbol, in addition to
// the built-in table. Tokens launched through the service are recorded here.
// Corresponds to token_metadata table in PostgreSQL.
type TokenMetadata struct {
	Mint        string  // token mint address (PK)
	Symbol      string  // upper-case ticker, unique
	Name        string  // display name
	Decimals    int     // mint decimals
	Supply      *uint64 // initial supply in base units (nullable)
	MetadataURI *string // off-chain metadata (nullable)
	CreatorID   string  // owner that launched it, empty for seeded tokens
	CreatedAt   int64   // record creation timestamp (ms)
}
