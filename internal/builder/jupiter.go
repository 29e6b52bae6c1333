package builder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultCollaboratorTimeout bounds each collaborator HTTP call.
const DefaultCollaboratorTimeout = 15 * time.Second

// JupiterQuoter implements Quoter against a Jupiter-compatible swap API:
// GET {endpoint}/quote followed by POST {endpoint}/swap.
type JupiterQuoter struct {
	endpoint string
	client   *http.Client
}

// HTTPOption configures the HTTP collaborators.
type HTTPOption func(*http.Client)

// WithCollaboratorTimeout sets the per-call timeout.
func WithCollaboratorTimeout(d time.Duration) HTTPOption {
	return func(c *http.Client) {
		c.Timeout = d
	}
}

// WithTransport sets the HTTP transport.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(c *http.Client) {
		c.Transport = rt
	}
}

func newHTTPClient(opts []HTTPOption) *http.Client {
	c := &http.Client{Timeout: DefaultCollaboratorTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewJupiterQuoter creates a quoter for endpoint, e.g. https://quote-api.jup.ag/v6.
func NewJupiterQuoter(endpoint string, opts ...HTTPOption) *JupiterQuoter {
	return &JupiterQuoter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newHTTPClient(opts),
	}
}

var _ Quoter = (*JupiterQuoter)(nil)

// jupiterQuote holds the fields we read; the raw response is passed back
// to /swap untouched.
type jupiterQuote struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type jupiterSwapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type jupiterSwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Quote implements Quoter.
func (q *JupiterQuoter) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	rawQuote, err := q.do(ctx, http.MethodGet, q.endpoint+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	var parsed jupiterQuote
	if err := json.Unmarshal(rawQuote, &parsed); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	inAmount, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode inAmount %q: %w", parsed.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode outAmount %q: %w", parsed.OutAmount, err)
	}

	body, err := json.Marshal(jupiterSwapRequest{
		QuoteResponse:    rawQuote,
		UserPublicKey:    req.UserPublicKey,
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	rawSwap, err := q.do(ctx, http.MethodPost, q.endpoint+"/swap", body)
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}

	var swap jupiterSwapResponse
	if err := json.Unmarshal(rawSwap, &swap); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil || len(payload) == 0 {
		return nil, fmt.Errorf("decode swap transaction: invalid base64")
	}

	return &Quote{
		UnsignedPayload: payload,
		InAmount:        inAmount,
		OutAmount:       outAmount,
		PriceImpactPct:  parsed.PriceImpactPct,
	}, nil
}

func (q *JupiterQuoter) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	return doJSON(ctx, q.client, method, target, body)
}

// doJSON performs one request and returns the body of a 200 response.
func doJSON(ctx context.Context, client *http.Client, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
