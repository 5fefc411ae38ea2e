package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
)

const (
	changeNowFromCurrency = "usdc"
	changeNowToCurrency   = "btc"
	changeNowFromNetwork  = "sol"
	changeNowToNetwork    = "btc"
)

// ChangeNow is a Provider backed by the ChangeNOW v2 REST API.
type ChangeNow struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    ratelimit.Limiter
}

// NewChangeNow creates a client rooted at baseURL, e.g. https://api.changenow.io/v2.
// requestsPerMinute caps outgoing calls; zero disables the limit.
func NewChangeNow(baseURL, apiKey string, requestsPerMinute int, httpClient *http.Client) *ChangeNow {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limiter := ratelimit.NewUnlimited()
	if requestsPerMinute > 0 {
		limiter = ratelimit.New(requestsPerMinute, ratelimit.Per(time.Minute))
	}
	return &ChangeNow{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

func (c *ChangeNow) Name() string {
	return "changenow"
}

func (c *ChangeNow) pairQuery() url.Values {
	q := url.Values{}
	q.Set("fromCurrency", changeNowFromCurrency)
	q.Set("toCurrency", changeNowToCurrency)
	q.Set("fromNetwork", changeNowFromNetwork)
	q.Set("toNetwork", changeNowToNetwork)
	q.Set("flow", "standard")
	return q
}

func (c *ChangeNow) MinAmount(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		MinAmount decimal.Decimal `json:"minAmount"`
	}
	if err := c.get(ctx, "/exchange/min-amount", c.pairQuery(), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get min amount: %w", err)
	}
	return resp.MinAmount, nil
}

func (c *ChangeNow) Estimate(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	q := c.pairQuery()
	q.Set("fromAmount", amount.String())
	q.Set("type", "direct")

	var resp struct {
		ToAmount decimal.Decimal `json:"toAmount"`
	}
	if err := c.get(ctx, "/exchange/estimated-amount", q, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get estimate: %w", err)
	}
	return resp.ToAmount, nil
}

func (c *ChangeNow) Open(ctx context.Context, req OpenRequest) (*Order, error) {
	body := map[string]interface{}{
		"fromCurrency": changeNowFromCurrency,
		"toCurrency":   changeNowToCurrency,
		"fromNetwork":  changeNowFromNetwork,
		"toNetwork":    changeNowToNetwork,
		"fromAmount":   json.Number(req.Amount.String()),
		"address":      req.Destination,
		"type":         "direct",
		"flow":         "standard",
	}

	var resp struct {
		ID           string          `json:"id"`
		PayinAddress string          `json:"payinAddress"`
		ToAmount     decimal.Decimal `json:"toAmount"`
	}
	if err := c.post(ctx, "/exchange", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create exchange: %w", err)
	}
	if resp.ID == "" || resp.PayinAddress == "" {
		return nil, fmt.Errorf("failed to create exchange: response is missing id or payin address")
	}

	return &Order{
		ID:           resp.ID,
		Provider:     c.Name(),
		PayinAddress: resp.PayinAddress,
		QuotedOutput: resp.ToAmount,
	}, nil
}

func (c *ChangeNow) Status(ctx context.Context, id string) (*OrderState, error) {
	q := url.Values{}
	q.Set("id", id)

	var resp struct {
		ID                string          `json:"id"`
		Status            string          `json:"status"`
		AmountFrom        decimal.Decimal `json:"amountFrom"`
		AmountTo          decimal.Decimal `json:"amountTo"`
		FromCurrency      string          `json:"fromCurrency"`
		ToCurrency        string          `json:"toCurrency"`
		FromNetwork       string          `json:"fromNetwork"`
		CreatedAt         time.Time       `json:"createdAt"`
		UpdatedAt         time.Time       `json:"updatedAt"`
		DepositReceivedAt time.Time       `json:"depositReceivedAt"`
		PayinHash         string          `json:"payinHash"`
		PayoutHash        string          `json:"payoutHash"`
		PayoutAddress     string          `json:"payoutAddress"`
	}
	if err := c.get(ctx, "/exchange/by-id", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to get exchange status: %w", err)
	}
	if resp.ID == "" {
		resp.ID = id
	}

	return &OrderState{
		ID:                resp.ID,
		Status:            ParseStatus(resp.Status),
		AmountFrom:        resp.AmountFrom,
		AmountTo:          resp.AmountTo,
		FromCurrency:      resp.FromCurrency,
		ToCurrency:        resp.ToCurrency,
		FromNetwork:       resp.FromNetwork,
		CreatedAt:         resp.CreatedAt,
		UpdatedAt:         resp.UpdatedAt,
		DepositReceivedAt: resp.DepositReceivedAt,
		PayinHash:         resp.PayinHash,
		PayoutHash:        resp.PayoutHash,
		PayoutAddress:     resp.PayoutAddress,
	}, nil
}

func (c *ChangeNow) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *ChangeNow) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *ChangeNow) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-changenow-api-key", c.apiKey)

	if err := c.wait(req.Context()); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// wait blocks for a limiter slot or until ctx is done. An abandoned Take
// still consumes its slot once the limiter releases it.
func (c *ChangeNow) wait(ctx context.Context) error {
	ready := make(chan struct{})
	go func() {
		c.limiter.Take()
		close(ready)
	}()

	select {
	case <-ready:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apiError extracts the {error, message} payload ChangeNOW returns on failure.
func (c *ChangeNow) apiError(status int, body []byte) error {
	perr := &ProviderError{Provider: c.Name(), Status: status}

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Error != "" || parsed.Message != "") {
		perr.Code = parsed.Error
		perr.Message = parsed.Message
		return perr
	}

	perr.Message = strings.TrimSpace(string(body))
	if perr.Message == "" {
		perr.Message = http.StatusText(status)
	}
	return perr
}
