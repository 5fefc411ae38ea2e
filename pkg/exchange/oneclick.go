package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"swapbot/pkg/types"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/shopspring/decimal"
)

// OneClick is a Provider backed by the 1Click swap API. Its orders are
// identified by their deposit address.
type OneClick struct {
	client   *oneclick.APIClient
	jwtToken string
	refundTo string

	mu     sync.Mutex
	origin *oneclick.TokenResponse
	dest   *oneclick.TokenResponse
}

// NewOneClick creates a 1Click provider. Refunds go to refundTo on the
// origin chain.
func NewOneClick(baseURL, jwtToken, refundTo string, httpClient *http.Client) *OneClick {
	config := oneclick.NewConfiguration()
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: strings.TrimRight(baseURL, "/")}}
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}

	return &OneClick{
		client:   oneclick.NewAPIClient(config),
		jwtToken: jwtToken,
		refundTo: refundTo,
	}
}

func (c *OneClick) Name() string {
	return "oneclick"
}

func (c *OneClick) authed(ctx context.Context) context.Context {
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.jwtToken)
}

// MinAmount is zero: 1Click rejects undersized amounts at quote time.
func (c *OneClick) MinAmount(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (c *OneClick) Estimate(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	quote, err := c.quote(ctx, amount, c.refundTo, true)
	if err != nil {
		return decimal.Zero, err
	}
	details := quote.GetQuote()
	return decimal.NewFromString(details.GetAmountOutFormatted())
}

func (c *OneClick) Open(ctx context.Context, req OpenRequest) (*Order, error) {
	if req.Destination == "" {
		return nil, fmt.Errorf("recipient address is required")
	}
	quote, err := c.quote(ctx, req.Amount, req.Destination, false)
	if err != nil {
		return nil, err
	}

	details := quote.GetQuote()
	depositAddress := details.GetDepositAddress()
	if depositAddress == "" {
		return nil, fmt.Errorf("quote has no deposit address")
	}
	out, err := decimal.NewFromString(details.GetAmountOutFormatted())
	if err != nil {
		return nil, fmt.Errorf("invalid quoted output %q: %w", details.GetAmountOutFormatted(), err)
	}

	return &Order{
		ID:           depositAddress,
		Provider:     c.Name(),
		PayinAddress: depositAddress,
		QuotedOutput: out,
	}, nil
}

func (c *OneClick) Status(ctx context.Context, depositAddress string) (*OrderState, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.authed(ctx)).DepositAddress(depositAddress).Execute()
	if err != nil {
		return nil, c.apiError(httpResp, fmt.Errorf("failed to get status: %w", err))
	}
	defer httpResp.Body.Close()

	details := resp.GetSwapDetails()
	state := &OrderState{
		ID:           depositAddress,
		Status:       MapOneClickStatus(resp.GetStatus()),
		UpdatedAt:    resp.GetUpdatedAt(),
		FromCurrency: "usdc",
		ToCurrency:   "btc",
		FromNetwork:  "sol",
	}
	if details.HasAmountInFormatted() {
		state.AmountFrom, _ = decimal.NewFromString(details.GetAmountInFormatted())
	}
	if details.HasAmountOutFormatted() {
		state.AmountTo, _ = decimal.NewFromString(details.GetAmountOutFormatted())
	}
	if txs := details.GetOriginChainTxHashes(); len(txs) > 0 {
		state.PayinHash = txs[0].GetHash()
	}
	if txs := details.GetDestinationChainTxHashes(); len(txs) > 0 {
		state.PayoutHash = txs[0].GetHash()
	}

	return state, nil
}

// MapOneClickStatus converts a 1Click execution status.
func MapOneClickStatus(status string) OrderStatus {
	switch strings.ToUpper(status) {
	case "SUCCESS", "COMPLETED":
		return StatusFinished
	case "FAILED":
		return StatusFailed
	case "REFUNDED":
		return StatusRefunded
	case "PENDING_DEPOSIT", "INCOMPLETE_DEPOSIT":
		return StatusWaiting
	case "KNOWN_DEPOSIT_TX":
		return StatusConfirming
	case "PROCESSING":
		return StatusExchanging
	default:
		return StatusUnknown
	}
}

func (c *OneClick) quote(ctx context.Context, amount decimal.Decimal, recipient string, dry bool) (*oneclick.QuoteResponse, error) {
	origin, dest, err := c.tokens(ctx)
	if err != nil {
		return nil, err
	}

	units, err := types.ToBaseUnits(amount, uint8(origin.GetDecimals()))
	if err != nil {
		return nil, err
	}

	quoteReq := oneclick.NewQuoteRequest(
		dry,
		"EXACT_INPUT",
		100, // 1%
		origin.GetAssetId(),
		"ORIGIN_CHAIN",
		dest.GetAssetId(),
		strconv.FormatUint(units, 10),
		c.refundTo,
		"ORIGIN_CHAIN",
		recipient,
		"DESTINATION_CHAIN",
		time.Now().Add(24*time.Hour),
	)

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.authed(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, c.apiError(httpResp, fmt.Errorf("failed to get quote from API: %w", err))
	}
	defer httpResp.Body.Close()

	if resp == nil {
		return nil, fmt.Errorf("empty quote response")
	}
	return resp, nil
}

// tokens resolves USDC on Solana and BTC once per provider.
func (c *OneClick) tokens(ctx context.Context) (*oneclick.TokenResponse, *oneclick.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.origin != nil && c.dest != nil {
		return c.origin, c.dest, nil
	}

	list, err := c.SupportedTokens(ctx)
	if err != nil {
		return nil, nil, err
	}
	origin, err := FindTokenOnChain(list, "USDC", "sol")
	if err != nil {
		return nil, nil, fmt.Errorf("source token error: %w", err)
	}
	dest, err := FindTokenOnChain(list, "BTC", "btc")
	if err != nil {
		return nil, nil, fmt.Errorf("destination token error: %w", err)
	}

	c.origin, c.dest = origin, dest
	return origin, dest, nil
}

// SupportedTokens lists every token 1Click can route.
func (c *OneClick) SupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authed(ctx)).Execute()
	if err != nil {
		return nil, c.apiError(httpResp, fmt.Errorf("failed to get tokens: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	return resp, nil
}

// FindTokenOnChain searches tokens for symbol on chain.
func FindTokenOnChain(tokens []oneclick.TokenResponse, symbol, chain string) (*oneclick.TokenResponse, error) {
	symbol = strings.ToUpper(symbol)
	chain = strings.ToLower(chain)

	for i := range tokens {
		if strings.ToUpper(tokens[i].GetSymbol()) == symbol &&
			strings.ToLower(tokens[i].GetBlockchain()) == chain {
			return &tokens[i], nil
		}
	}
	return nil, fmt.Errorf("token '%s' not found on chain '%s'", symbol, chain)
}

// apiError turns an SDK failure into a ProviderError when the response body
// carries a message.
func (c *OneClick) apiError(httpResp *http.Response, fallback error) error {
	if httpResp == nil {
		return fallback
	}
	defer httpResp.Body.Close()

	perr := &ProviderError{Provider: c.Name(), Status: httpResp.StatusCode}
	bodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(bodyBytes) == 0 {
		perr.Message = fallback.Error()
		return perr
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			perr.Message = message
			return perr
		}
		if errs, ok := errorResp["errors"]; ok {
			perr.Message = fmt.Sprintf("%v", errs)
			return perr
		}
	}
	perr.Message = string(bodyBytes)
	return perr
}
