package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeNow(t *testing.T) {
	var openBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-changenow-api-key"))
		q := r.URL.Query()

		switch r.URL.Path {
		case "/v2/exchange/min-amount":
			assert.Equal(t, "usdc", q.Get("fromCurrency"))
			assert.Equal(t, "btc", q.Get("toCurrency"))
			assert.Equal(t, "sol", q.Get("fromNetwork"))
			assert.Equal(t, "standard", q.Get("flow"))
			_, _ = w.Write([]byte(`{"fromCurrency":"usdc","minAmount":40.5}`))
		case "/v2/exchange/estimated-amount":
			assert.Equal(t, "950", q.Get("fromAmount"))
			_, _ = w.Write([]byte(`{"toAmount":0.0142}`))
		case "/v2/exchange":
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&openBody))
			_, _ = w.Write([]byte(`{"id":"abc123","payinAddress":"PayIn111","toAmount":0.0141}`))
		case "/v2/exchange/by-id":
			assert.Equal(t, "abc123", q.Get("id"))
			_, _ = w.Write([]byte(`{
				"id":"abc123","status":"exchanging","amountFrom":950,"amountTo":null,
				"fromCurrency":"usdc","toCurrency":"btc","fromNetwork":"sol",
				"createdAt":"2024-03-01T10:00:00.000Z","depositReceivedAt":null,
				"payinHash":"hash-in","payoutHash":null,"payoutAddress":"bc1qdest"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewChangeNow(srv.URL+"/v2", "secret", 0, nil)
	ctx := context.Background()

	minimum, err := c.MinAmount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "40.5", minimum.String())

	estimate, err := c.Estimate(ctx, decimal.NewFromInt(950))
	require.NoError(t, err)
	assert.Equal(t, "0.0142", estimate.String())

	order, err := c.Open(ctx, OpenRequest{Amount: decimal.NewFromInt(950), Destination: "bc1qdest"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", order.ID)
	assert.Equal(t, "PayIn111", order.PayinAddress)
	assert.Equal(t, "0.0141", order.QuotedOutput.String())
	assert.Equal(t, "changenow", order.Provider)

	assert.JSONEq(t, `950`, string(openBody["fromAmount"]))
	assert.JSONEq(t, `"bc1qdest"`, string(openBody["address"]))
	assert.JSONEq(t, `"direct"`, string(openBody["type"]))
	assert.JSONEq(t, `"sol"`, string(openBody["fromNetwork"]))

	state, err := c.Status(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusExchanging, state.Status)
	assert.Equal(t, "950", state.AmountFrom.String())
	assert.True(t, state.AmountTo.IsZero())
	assert.Equal(t, "hash-in", state.PayinHash)
	assert.Empty(t, state.PayoutHash)
	assert.Equal(t, "bc1qdest", state.PayoutAddress)
	assert.Equal(t, 2024, state.CreatedAt.Year())
	assert.True(t, state.DepositReceivedAt.IsZero())
}

func TestChangeNow_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"out_of_range","message":"Amount is less than minimal: 40"}`))
	}))
	defer srv.Close()

	_, err := NewChangeNow(srv.URL, "k", 0, nil).Open(context.Background(), OpenRequest{Amount: decimal.NewFromInt(1), Destination: "bc1q"})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Equal(t, "out_of_range", perr.Code)
	assert.Equal(t, "Amount is less than minimal: 40", perr.Message)
}

func TestChangeNow_UnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewChangeNow(srv.URL, "k", 0, nil).MinAmount(context.Background())
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Bad Gateway", perr.Message)
}

func TestOrderStatus(t *testing.T) {
	assert.Equal(t, StatusFinished, ParseStatus("finished"))
	assert.Equal(t, StatusUnknown, ParseStatus("verifying"))

	for _, s := range []OrderStatus{StatusFinished, StatusFailed, StatusRefunded, StatusExpired} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []OrderStatus{StatusNew, StatusWaiting, StatusConfirming, StatusExchanging, StatusSending, StatusUnknown} {
		assert.False(t, s.Terminal(), s)
	}

	assert.Equal(t, "✅", StatusFinished.Marker())
	assert.Equal(t, "❓", OrderStatus("bogus").Marker())
}

func TestMapOneClickStatus(t *testing.T) {
	cases := map[string]OrderStatus{
		"SUCCESS":            StatusFinished,
		"FAILED":             StatusFailed,
		"REFUNDED":           StatusRefunded,
		"PENDING_DEPOSIT":    StatusWaiting,
		"INCOMPLETE_DEPOSIT": StatusWaiting,
		"KNOWN_DEPOSIT_TX":   StatusConfirming,
		"PROCESSING":         StatusExchanging,
		"whatever":           StatusUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapOneClickStatus(in), in)
	}
}

func TestChangeNow_CancelWhileRateLimited(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// One request per minute: the first call passes, the second has to wait.
	c := NewChangeNow(srv.URL, "k", 1, nil)
	_, err := c.MinAmount(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.MinAmount(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = c.MinAmount(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
