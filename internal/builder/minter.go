package builder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPMinter implements Minter by POSTing to {endpoint}/create.
type HTTPMinter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPMinter creates a minter client.
func NewHTTPMinter(endpoint string, opts ...HTTPOption) *HTTPMinter {
	return &HTTPMinter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newHTTPClient(opts),
	}
}

var _ Minter = (*HTTPMinter)(nil)

type createRequestBody struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Supply      uint64 `json:"supply"`
	Decimals    uint8  `json:"decimals"`
	MetadataURI string `json:"metadataUri,omitempty"`
	Payer       string `json:"payer"`
}

type createResponseBody struct {
	Transaction string `json:"transaction"` // base64
	Mint        string `json:"mint"`
}

// BuildCreate implements Minter.
func (m *HTTPMinter) BuildCreate(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	body, err := json.Marshal(createRequestBody{
		Name:        req.Name,
		Symbol:      req.Symbol,
		Supply:      req.Supply,
		Decimals:    req.Decimals,
		MetadataURI: req.MetadataURI,
		Payer:       req.Payer,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	raw, err := doJSON(ctx, m.client, http.MethodPost, m.endpoint+"/create", body)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	var resp createResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(resp.Transaction)
	if err != nil || len(payload) == 0 {
		return nil, fmt.Errorf("decode create transaction: invalid base64")
	}
	if !isAddress(resp.Mint) {
		return nil, fmt.Errorf("decode create response: invalid mint %q", resp.Mint)
	}

	return &CreateResult{UnsignedPayload: payload, MintAddress: resp.Mint}, nil
}

// HTTPMetadataUploader implements MetadataUploader by POSTing to
// {endpoint}/metadata.
type HTTPMetadataUploader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPMetadataUploader creates an uploader client.
func NewHTTPMetadataUploader(endpoint string, opts ...HTTPOption) *HTTPMetadataUploader {
	return &HTTPMetadataUploader{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newHTTPClient(opts),
	}
}

var _ MetadataUploader = (*HTTPMetadataUploader)(nil)

// Upload implements MetadataUploader.
func (u *HTTPMetadataUploader) Upload(ctx context.Context, md TokenMetadata) (string, error) {
	body, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	raw, err := doJSON(ctx, u.client, http.MethodPost, u.endpoint+"/metadata", body)
	if err != nil {
		return "", fmt.Errorf("metadata: %w", err)
	}

	var resp struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode metadata response: %w", err)
	}
	if resp.URI == "" {
		return "", fmt.Errorf("decode metadata response: empty uri")
	}
	return resp.URI, nil
}
