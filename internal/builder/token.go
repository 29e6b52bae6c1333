package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Token is a resolved SPL token.
type Token struct {
	Symbol   string
	Mint     string
	Decimals uint8
}

// Well-known mints.
const (
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint       = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	BonkMint       = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	JupMint        = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
)

// wellKnown maps upper-case symbols to their mints.
var wellKnown = map[string]Token{
	"SOL":  {Symbol: "SOL", Mint: WrappedSOLMint, Decimals: 9},
	"WSOL": {Symbol: "SOL", Mint: WrappedSOLMint, Decimals: 9},
	"USDC": {Symbol: "USDC", Mint: USDCMint, Decimals: 6},
	"USDT": {Symbol: "USDT", Mint: USDTMint, Decimals: 6},
	"BONK": {Symbol: "BONK", Mint: BonkMint, Decimals: 5},
	"JUP":  {Symbol: "JUP", Mint: JupMint, Decimals: 6},
}

// TokenResolver maps user input to a token.
type TokenResolver interface {
	Resolve(ctx context.Context, input string) (Token, error)
}

// MetadataLookup resolves symbols the static table does not know.
// Implementations return an error when the symbol is unknown.
type MetadataLookup interface {
	LookupSymbol(ctx context.Context, symbol string) (Token, error)
}

// DecimalsSource reads the decimals of a mint. Implemented by solana.HTTPClient.
type DecimalsSource interface {
	MintDecimals(ctx context.Context, mint string) (uint8, error)
}

// StaticResolver resolves well-known symbols, then the optional lookup, then
// treats the input as a literal mint address.
type StaticResolver struct {
	lookup   MetadataLookup
	decimals DecimalsSource
}

// NewStaticResolver creates a resolver. Both collaborators are optional;
// without decimals only well-known and looked-up tokens resolve.
func NewStaticResolver(lookup MetadataLookup, decimals DecimalsSource) *StaticResolver {
	return &StaticResolver{lookup: lookup, decimals: decimals}
}

var _ TokenResolver = (*StaticResolver)(nil)

// Resolve implements TokenResolver.
func (r *StaticResolver) Resolve(ctx context.Context, input string) (Token, error) {
	input = strings.TrimSpace(input)
	if t, ok := wellKnown[strings.ToUpper(input)]; ok {
		return t, nil
	}
	for _, t := range wellKnown {
		if t.Mint == input {
			return t, nil
		}
	}

	if r.lookup != nil {
		if t, err := r.lookup.LookupSymbol(ctx, input); err == nil {
			return t, nil
		}
	}

	if !isAddress(input) {
		return Token{}, fmt.Errorf("%w: unknown token %q", ErrUnsupportedPair, input)
	}
	if r.decimals == nil {
		return Token{}, fmt.Errorf("%w: no decimals for mint %s", ErrUnsupportedPair, input)
	}
	dec, err := r.decimals.MintDecimals(ctx, input)
	if err != nil {
		return Token{}, fmt.Errorf("%w: read mint %s: %v", ErrUnsupportedPair, input, err)
	}
	return Token{Symbol: shortAddress(input), Mint: input, Decimals: dec}, nil
}

// isAddress reports whether s is a base58 32-byte public key.
func isAddress(s string) bool {
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}

func shortAddress(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
