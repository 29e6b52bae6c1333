// Package builder turns completed action requests into unsigned transactions
// by calling the quoting and minting collaborators.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/observability"
)

// Defaults for launches and swaps.
const (
	DefaultSlippageBps    = 50
	DefaultLaunchSupply   = 1_000_000_000
	DefaultLaunchDecimals = 6
)

// Metadata keys set on Result.
const (
	MetaInputMint      = "input_mint"
	MetaOutputMint     = "output_mint"
	MetaInAmount       = "in_amount"
	MetaOutAmount      = "out_amount"
	MetaPriceImpactPct = "price_impact_pct"
	MetaMintAddress    = "mint_address"
	MetaMetadataURI    = "metadata_uri"
	MetaName           = "name"
	MetaSymbol         = "symbol"
	MetaDecimals       = "decimals"
	MetaSupply         = "supply"
)

// Request is a completed action. Swap requests use the token and amount
// fields; launch requests use name, symbol and description.
type Request struct {
	Kind          domain.ActionKind
	WalletAddress string

	SourceToken      string
	DestinationToken string
	Amount           string

	Name        string
	Symbol      string
	Description string
}

// Result is an unsigned transaction ready for signing.
type Result struct {
	PreviewText     string            `json:"preview"`
	UnsignedPayload []byte            `json:"unsigned_payload"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Builder builds swap and launch transactions.
type Builder struct {
	resolver       TokenResolver
	quoter         Quoter
	minter         Minter
	uploader       MetadataUploader
	logger         *zap.Logger
	slippageBps    int
	launchSupply   uint64
	launchDecimals uint8
}

// Options for creating Builder.
type Options struct {
	// Required
	Resolver TokenResolver
	Quoter   Quoter
	Minter   Minter

	// Optional
	Uploader       MetadataUploader
	Logger         *zap.Logger
	SlippageBps    int
	LaunchSupply   uint64
	LaunchDecimals uint8
}

// New creates a new Builder.
func New(opts Options) *Builder {
	b := &Builder{
		resolver:       opts.Resolver,
		quoter:         opts.Quoter,
		minter:         opts.Minter,
		uploader:       opts.Uploader,
		logger:         opts.Logger,
		slippageBps:    opts.SlippageBps,
		launchSupply:   opts.LaunchSupply,
		launchDecimals: opts.LaunchDecimals,
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.Named("builder")
	if b.slippageBps <= 0 {
		b.slippageBps = DefaultSlippageBps
	}
	if b.launchSupply == 0 {
		b.launchSupply = DefaultLaunchSupply
	}
	if b.launchDecimals == 0 {
		b.launchDecimals = DefaultLaunchDecimals
	}
	return b
}

// Build produces the unsigned transaction and preview for req.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	var (
		res *Result
		err error
	)
	switch req.Kind {
	case domain.ActionSwap:
		res, err = b.buildSwap(ctx, req)
	case domain.ActionLaunch:
		res, err = b.buildLaunch(ctx, req)
	default:
		err = fmt.Errorf("unknown action kind %q", req.Kind)
	}

	observability.RecordBuild(string(req.Kind), time.Since(start).Seconds(), failureReason(err))
	if err != nil {
		b.logger.Warn("build failed", zap.String("kind", string(req.Kind)), zap.Error(err))
		return nil, err
	}
	b.logger.Info("built transaction",
		zap.String("kind", string(req.Kind)),
		zap.String("wallet", req.WalletAddress),
		zap.Int("payload_bytes", len(res.UnsignedPayload)))
	return res, nil
}

func (b *Builder) buildSwap(ctx context.Context, req Request) (*Result, error) {
	if req.WalletAddress == "" {
		return nil, fmt.Errorf("%w: wallet address", ErrMissingRequiredField)
	}

	in, err := b.resolver.Resolve(ctx, req.SourceToken)
	if err != nil {
		return nil, err
	}
	out, err := b.resolver.Resolve(ctx, req.DestinationToken)
	if err != nil {
		return nil, err
	}
	if in.Mint == out.Mint {
		return nil, fmt.Errorf("%w: %s to itself", ErrUnsupportedPair, in.Symbol)
	}

	amount, err := ToBaseUnits(req.Amount, in.Decimals)
	if err != nil {
		return nil, err
	}

	quote, err := b.quoter.Quote(ctx, QuoteRequest{
		InputMint:     in.Mint,
		OutputMint:    out.Mint,
		Amount:        amount,
		SlippageBps:   b.slippageBps,
		UserPublicKey: req.WalletAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	preview := fmt.Sprintf("Swap %s %s for ~%s %s",
		FromBaseUnits(quote.InAmount, in.Decimals), in.Symbol,
		FromBaseUnits(quote.OutAmount, out.Decimals), out.Symbol)
	if quote.PriceImpactPct != "" {
		preview += fmt.Sprintf(" (price impact %s%%)", quote.PriceImpactPct)
	}

	return &Result{
		PreviewText:     preview,
		UnsignedPayload: quote.UnsignedPayload,
		Metadata: map[string]string{
			MetaInputMint:      in.Mint,
			MetaOutputMint:     out.Mint,
			MetaInAmount:       fmt.Sprint(quote.InAmount),
			MetaOutAmount:      fmt.Sprint(quote.OutAmount),
			MetaPriceImpactPct: quote.PriceImpactPct,
		},
	}, nil
}

func (b *Builder) buildLaunch(ctx context.Context, req Request) (*Result, error) {
	if b.minter == nil {
		return nil, fmt.Errorf("%w: launch", ErrActionDisabled)
	}
	name := strings.TrimSpace(req.Name)
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingRequiredField)
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol", ErrMissingRequiredField)
	}
	if req.WalletAddress == "" {
		return nil, fmt.Errorf("%w: wallet address", ErrMissingRequiredField)
	}

	var uri string
	if b.uploader != nil {
		var err error
		uri, err = b.uploader.Upload(ctx, TokenMetadata{
			Name:        name,
			Symbol:      symbol,
			Description: strings.TrimSpace(req.Description),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: upload metadata: %v", ErrQuoteUnavailable, err)
		}
	}

	created, err := b.minter.BuildCreate(ctx, CreateRequest{
		Name:        name,
		Symbol:      symbol,
		Supply:      b.launchSupply,
		Decimals:    b.launchDecimals,
		MetadataURI: uri,
		Payer:       req.WalletAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	return &Result{
		PreviewText: fmt.Sprintf("Create token %s (%s) with supply %s at %s",
			name, symbol, decimal.NewFromInt(int64(b.launchSupply)).StringFixed(0), created.MintAddress),
		UnsignedPayload: created.UnsignedPayload,
		Metadata: map[string]string{
			MetaMintAddress: created.MintAddress,
			MetaMetadataURI: uri,
			MetaName:        name,
			MetaSymbol:      symbol,
			MetaDecimals:    fmt.Sprint(b.launchDecimals),
			MetaSupply:      fmt.Sprint(b.launchSupply),
		},
	}, nil
}

// ToBaseUnits converts a decimal amount string to integer base units.
// Digits beyond the token's precision are truncated.
func ToBaseUnits(amount string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	units := d.Shift(int32(decimals)).Truncate(0)
	if !units.IsPositive() {
		return 0, fmt.Errorf("%w: %q is below the smallest unit", ErrInvalidAmount, amount)
	}
	bi := units.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, amount)
	}
	return bi.Uint64(), nil
}

// FromBaseUnits renders base units as a decimal string without trailing zeros.
func FromBaseUnits(units uint64, decimals uint8) string {
	return decimal.NewFromUint64(units).Shift(-int32(decimals)).String()
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, ErrUnsupportedPair):
		return "unsupported_pair"
	case errors.Is(err, ErrMissingRequiredField):
		return "missing_field"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrActionDisabled):
		return "disabled"
	default:
		return "other"
	}
}
