package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pricer fetches USD reference prices used to sanity check provider estimates.
type Pricer struct {
	baseURL    string
	httpClient *http.Client
}

// NewPricer creates a CoinGecko pricer rooted at baseURL, e.g.
// https://api.coingecko.com/api/v3.
func NewPricer(baseURL string, httpClient *http.Client) *Pricer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Pricer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// PriceInfo is a reference conversion from the source to the payout asset.
type PriceInfo struct {
	SourceUSD decimal.Decimal
	DestUSD   decimal.Decimal
	Price     decimal.Decimal // payout units per source unit
}

// GetPrice returns the USDC to BTC reference price.
func (p *Pricer) GetPrice(ctx context.Context) (*PriceInfo, error) {
	q := url.Values{}
	q.Set("ids", "bitcoin,usd-coin")
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read price: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status code %d", resp.StatusCode)
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &prices); err != nil {
		return nil, fmt.Errorf("failed to decode price: %w", err)
	}

	btc := prices["bitcoin"]["usd"]
	if !btc.IsPositive() {
		return nil, fmt.Errorf("invalid bitcoin price: %s", btc)
	}
	usdc, ok := prices["usd-coin"]["usd"]
	if !ok || !usdc.IsPositive() {
		usdc = decimal.NewFromInt(1)
	}

	return &PriceInfo{
		SourceUSD: usdc,
		DestUSD:   btc,
		Price:     usdc.Div(btc),
	}, nil
}

// Expected returns the reference payout for amount.
func (p *Pricer) Expected(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	info, err := p.GetPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(info.Price), nil
}

// CheckDeviation fails with ErrRateDeviation when quoted strays from
// reference by more than maxDeviation, expressed as a fraction.
func CheckDeviation(reference, quoted, maxDeviation decimal.Decimal) error {
	if !reference.IsPositive() || !maxDeviation.IsPositive() {
		return nil
	}
	deviation := quoted.Sub(reference).Abs().Div(reference)
	if deviation.GreaterThan(maxDeviation) {
		return fmt.Errorf("%w: quoted %s against reference %s (%s%%)",
			ErrRateDeviation, quoted, reference, deviation.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	return nil
}
