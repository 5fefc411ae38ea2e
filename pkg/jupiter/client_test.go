package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedSwapTx(t *testing.T, payer solana.PublicKey) string {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, solana.SystemProgramID).Build()},
		solana.Hash{7},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = []solana.Signature{{}}

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestClient_QuoteAndSwap(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	user := key.PublicKey()

	var swapBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v6/quote":
			q := r.URL.Query()
			assert.Equal(t, "IN", q.Get("inputMint"))
			assert.Equal(t, "OUT", q.Get("outputMint"))
			assert.Equal(t, "50000000", q.Get("amount"))
			assert.Equal(t, "100", q.Get("slippageBps"))
			_, _ = w.Write([]byte(`{"inAmount":"50000000","outAmount":"312345","routePlan":[]}`))
		case "/v6/swap":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&swapBody))
			_ = json.NewEncoder(w).Encode(map[string]string{"swapTransaction": unsignedSwapTx(t, user)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v6/", nil)

	quote, err := client.GetQuote(context.Background(), QuoteRequest{
		InputMint:   "IN",
		OutputMint:  "OUT",
		Amount:      50_000_000,
		SlippageBps: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), quote.InAmount)
	assert.Equal(t, uint64(312345), quote.OutAmount)

	tx, err := client.SwapTransaction(context.Background(), SwapRequest{
		Quote:                         quote,
		User:                          user,
		ComputeUnitPriceMicroLamports: 100000,
		ComputeUnitsLimit:             400000,
		SlippageBps:                   200,
	})
	require.NoError(t, err)
	require.NotEmpty(t, tx.Message.AccountKeys)
	assert.True(t, tx.Message.AccountKeys[0].Equals(user))

	assert.JSONEq(t, `{"inAmount":"50000000","outAmount":"312345","routePlan":[]}`, string(swapBody["quoteResponse"]))
	assert.JSONEq(t, `100000`, string(swapBody["computeUnitPriceMicroLamports"]))
	assert.JSONEq(t, `400000`, string(swapBody["computeUnitsLimit"]))
	assert.JSONEq(t, `"`+user.String()+`"`, string(swapBody["userPublicKey"]))
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).GetQuote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "route")
}

func TestDecodeTransaction_Invalid(t *testing.T) {
	_, err := DecodeTransaction("")
	assert.Error(t, err)
	_, err = DecodeTransaction("!!!")
	assert.Error(t, err)
}
