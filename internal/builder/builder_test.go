package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-action-relay/internal/domain"
)

const testWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

type fakeQuoter struct {
	got   QuoteRequest
	quote *Quote
	err   error
	calls int
}

func (f *fakeQuoter) Quote(_ context.Context, req QuoteRequest) (*Quote, error) {
	f.calls++
	f.got = req
	return f.quote, f.err
}

type fakeMinter struct {
	got    CreateRequest
	result *CreateResult
	err    error
}

func (f *fakeMinter) BuildCreate(_ context.Context, req CreateRequest) (*CreateResult, error) {
	f.got = req
	return f.result, f.err
}

type fakeUploader struct {
	got TokenMetadata
	uri string
	err error
}

func (f *fakeUploader) Upload(_ context.Context, md TokenMetadata) (string, error) {
	f.got = md
	return f.uri, f.err
}

type fakeDecimals map[string]uint8

func (f fakeDecimals) MintDecimals(_ context.Context, mint string) (uint8, error) {
	d, ok := f[mint]
	if !ok {
		return 0, errors.New("not a mint")
	}
	return d, nil
}

func newSwapBuilder(q Quoter) *Builder {
	return New(Options{
		Resolver: NewStaticResolver(nil, fakeDecimals{BonkMint: 5}),
		Quoter:   q,
		Minter:   &fakeMinter{},
	})
}

func TestBuild_Swap(t *testing.T) {
	q := &fakeQuoter{quote: &Quote{
		UnsignedPayload: []byte{0xaa, 0xbb},
		InAmount:        1_500_000_000,
		OutAmount:       187_230_000,
		PriceImpactPct:  "0.01",
	}}
	b := newSwapBuilder(q)

	res, err := b.Build(context.Background(), Request{
		Kind:             domain.ActionSwap,
		WalletAddress:    testWallet,
		SourceToken:      "sol",
		DestinationToken: "USDC",
		Amount:           "1.5",
	})
	require.NoError(t, err)

	assert.Equal(t, []byte{0xaa, 0xbb}, res.UnsignedPayload, "payload kept verbatim")
	assert.Equal(t, "Swap 1.5 SOL for ~187.23 USDC (price impact 0.01%)", res.PreviewText)
	assert.Equal(t, WrappedSOLMint, res.Metadata[MetaInputMint])
	assert.Equal(t, USDCMint, res.Metadata[MetaOutputMint])

	assert.Equal(t, QuoteRequest{
		InputMint:     WrappedSOLMint,
		OutputMint:    USDCMint,
		Amount:        1_500_000_000,
		SlippageBps:   DefaultSlippageBps,
		UserPublicKey: testWallet,
	}, q.got)
}

func TestBuild_SwapLiteralAddress(t *testing.T) {
	q := &fakeQuoter{quote: &Quote{UnsignedPayload: []byte{1}, InAmount: 100, OutAmount: 2}}
	b := newSwapBuilder(q)

	// BONK's mint is in the static table; an unknown mint goes through decimals.
	unknownMint := "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	b.resolver = NewStaticResolver(nil, fakeDecimals{unknownMint: 6})

	_, err := b.Build(context.Background(), Request{
		Kind:             domain.ActionSwap,
		WalletAddress:    testWallet,
		SourceToken:      unknownMint,
		DestinationToken: "SOL",
		Amount:           "0.0001",
	})
	require.NoError(t, err)
	assert.Equal(t, unknownMint, q.got.InputMint)
	assert.Equal(t, uint64(100), q.got.Amount)
}

func TestBuild_SwapErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		quoter  *fakeQuoter
		wantErr error
	}{
		{
			name:    "same token",
			req:     Request{SourceToken: "SOL", DestinationToken: "wsol", Amount: "1"},
			wantErr: ErrUnsupportedPair,
		},
		{
			name:    "unknown symbol",
			req:     Request{SourceToken: "SOL", DestinationToken: "NOPE", Amount: "1"},
			wantErr: ErrUnsupportedPair,
		},
		{
			name:    "address without decimals",
			req:     Request{SourceToken: "SOL", DestinationToken: "11111111111111111111111111111111", Amount: "1"},
			wantErr: ErrUnsupportedPair,
		},
		{
			name:    "non numeric amount",
			req:     Request{SourceToken: "SOL", DestinationToken: "USDC", Amount: "lots"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "dust amount",
			req:     Request{SourceToken: "USDC", DestinationToken: "SOL", Amount: "0.0000001"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "quoter failure",
			req:     Request{SourceToken: "SOL", DestinationToken: "USDC", Amount: "1"},
			quoter:  &fakeQuoter{err: errors.New("502 bad gateway")},
			wantErr: ErrQuoteUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.quoter
			if q == nil {
				q = &fakeQuoter{quote: &Quote{UnsignedPayload: []byte{1}}}
			}
			req := tt.req
			req.Kind = domain.ActionSwap
			req.WalletAddress = testWallet

			_, err := newSwapBuilder(q).Build(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuild_SwapRequiresWallet(t *testing.T) {
	q := &fakeQuoter{}
	_, err := newSwapBuilder(q).Build(context.Background(), Request{
		Kind: domain.ActionSwap, SourceToken: "SOL", DestinationToken: "USDC", Amount: "1",
	})
	assert.ErrorIs(t, err, ErrMissingRequiredField)
	assert.Zero(t, q.calls)
}

func TestBuild_Launch(t *testing.T) {
	m := &fakeMinter{result: &CreateResult{UnsignedPayload: []byte{7}, MintAddress: BonkMint}}
	u := &fakeUploader{uri: "ipfs://meta"}
	b := New(Options{
		Resolver: NewStaticResolver(nil, nil),
		Quoter:   &fakeQuoter{},
		Minter:   m,
		Uploader: u,
	})

	res, err := b.Build(context.Background(), Request{
		Kind:          domain.ActionLaunch,
		WalletAddress: testWallet,
		Name:          "Moon Cat",
		Symbol:        "mcat",
		Description:   "a cat on the moon",
	})
	require.NoError(t, err)

	assert.Equal(t, []byte{7}, res.UnsignedPayload)
	assert.Equal(t, BonkMint, res.Metadata[MetaMintAddress])
	assert.Equal(t, "ipfs://meta", res.Metadata[MetaMetadataURI])
	assert.Equal(t, "MCAT", res.Metadata[MetaSymbol])
	assert.Equal(t, "6", res.Metadata[MetaDecimals])
	assert.Contains(t, res.PreviewText, "Moon Cat (MCAT)")

	assert.Equal(t, TokenMetadata{Name: "Moon Cat", Symbol: "MCAT", Description: "a cat on the moon"}, u.got)
	assert.Equal(t, CreateRequest{
		Name:        "Moon Cat",
		Symbol:      "MCAT",
		Supply:      DefaultLaunchSupply,
		Decimals:    DefaultLaunchDecimals,
		MetadataURI: "ipfs://meta",
		Payer:       testWallet,
	}, m.got)
}

func TestBuild_LaunchErrors(t *testing.T) {
	ok := &CreateResult{UnsignedPayload: []byte{7}, MintAddress: BonkMint}

	tests := []struct {
		name     string
		req      Request
		minter   *fakeMinter
		uploader MetadataUploader
		wantErr  error
	}{
		{"missing name", Request{Symbol: "AB"}, &fakeMinter{result: ok}, nil, ErrMissingRequiredField},
		{"missing symbol", Request{Name: "Alpha"}, &fakeMinter{result: ok}, nil, ErrMissingRequiredField},
		{"minter failure", Request{Name: "Alpha", Symbol: "AB"}, &fakeMinter{err: errors.New("down")}, nil, ErrQuoteUnavailable},
		{"uploader failure", Request{Name: "Alpha", Symbol: "AB"}, &fakeMinter{result: ok}, &fakeUploader{err: errors.New("ipfs down")}, ErrQuoteUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(Options{
				Resolver: NewStaticResolver(nil, nil),
				Quoter:   &fakeQuoter{},
				Minter:   tt.minter,
				Uploader: tt.uploader,
			})
			req := tt.req
			req.Kind = domain.ActionLaunch
			req.WalletAddress = testWallet

			_, err := b.Build(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuild_LaunchWithoutMinter(t *testing.T) {
	b := New(Options{Resolver: NewStaticResolver(nil, nil), Quoter: &fakeQuoter{}})
	_, err := b.Build(context.Background(), Request{
		Kind:          domain.ActionLaunch,
		WalletAddress: testWallet,
		Name:          "Moon Cat",
		Symbol:        "MCAT",
	})
	assert.ErrorIs(t, err, ErrActionDisabled)
}

func TestBuild_UnknownKind(t *testing.T) {
	b := newSwapBuilder(&fakeQuoter{})
	_, err := b.Build(context.Background(), Request{Kind: "stake"})
	assert.Error(t, err)
}

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"1.5", 9, 1_500_000_000, false},
		{"0.000001", 6, 1, false},
		{"2.1234567", 6, 2_123_456, false},
		{"100", 0, 100, false},
		{"0", 9, 0, true},
		{"-1", 9, 0, true},
		{"abc", 9, 0, true},
		{"99999999999999999999", 9, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromBaseUnits(t *testing.T) {
	assert.Equal(t, "1.5", FromBaseUnits(1_500_000_000, 9))
	assert.Equal(t, "0.000001", FromBaseUnits(1, 6))
	assert.Equal(t, "42", FromBaseUnits(42, 0))
}
