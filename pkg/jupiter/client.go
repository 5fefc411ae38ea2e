package jupiter

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

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Client talks to the Jupiter v6 quote and swap API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client rooted at baseURL, e.g. https://quote-api.jup.ag/v6.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// QuoteRequest asks for a route selling Amount base units of InputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Quote is a route returned by the aggregator. Raw is passed back verbatim
// when requesting the swap transaction.
type Quote struct {
	InAmount  uint64
	OutAmount uint64
	Raw       json.RawMessage
}

// SwapRequest asks for a transaction executing quote on behalf of User.
type SwapRequest struct {
	Quote                         *Quote
	User                          solana.PublicKey
	ComputeUnitPriceMicroLamports uint64
	ComputeUnitsLimit             uint32
	SlippageBps                   int
}

// APIError is a non-2xx answer from the aggregator.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jupiter returned status %d: %s", e.Status, e.Body)
}

// GetQuote fetches a fresh quote.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	body, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	var parsed struct {
		InAmount  string `json:"inAmount"`
		OutAmount string `json:"outAmount"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	in, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid quote inAmount %q: %w", parsed.InAmount, err)
	}
	out, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid quote outAmount %q: %w", parsed.OutAmount, err)
	}

	return &Quote{InAmount: in, OutAmount: out, Raw: body}, nil
}

// SwapTransaction fetches the unsigned swap transaction for a quote.
func (c *Client) SwapTransaction(ctx context.Context, req SwapRequest) (*solana.Transaction, error) {
	if req.Quote == nil {
		return nil, fmt.Errorf("swap request has no quote")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"quoteResponse":                 req.Quote.Raw,
		"userPublicKey":                 req.User.String(),
		"wrapAndUnwrapSol":              true,
		"computeUnitPriceMicroLamports": req.ComputeUnitPriceMicroLamports,
		"computeUnitsLimit":             req.ComputeUnitsLimit,
		"slippageBps":                   req.SlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to get swap transaction: %w", err)
	}

	var parsed struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	return DecodeTransaction(parsed.SwapTransaction)
}

// DecodeTransaction parses a base64 encoded, possibly versioned, transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty transaction")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction encoding: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
