package builder

import "context"

// QuoteRequest asks for a route between two mints. Amount is in input base units.
type QuoteRequest struct {
	InputMint     string
	OutputMint    string
	Amount        uint64
	SlippageBps   int
	UserPublicKey string
}

// Quote is a priced route together with its unsigned transaction.
type Quote struct {
	UnsignedPayload []byte
	InAmount        uint64
	OutAmount       uint64
	PriceImpactPct  string
}

// Quoter is the external quoting/build collaborator for swaps.
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// TokenMetadata is the off-chain description of a new token.
type TokenMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
}

// MetadataUploader stores token metadata and returns its URI.
type MetadataUploader interface {
	Upload(ctx context.Context, md TokenMetadata) (string, error)
}

// CreateRequest describes a token mint to build.
type CreateRequest struct {
	Name        string
	Symbol      string
	Supply      uint64
	Decimals    uint8
	MetadataURI string
	Payer       string
}

// CreateResult is the unsigned mint transaction.
type CreateResult struct {
	UnsignedPayload []byte
	MintAddress     string
}

// Minter is the external minting/build collaborator for launches.
type Minter interface {
	BuildCreate(ctx context.Context, req CreateRequest) (*CreateResult, error)
}
