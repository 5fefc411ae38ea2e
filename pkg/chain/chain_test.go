package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC calls from a method -> result table.
type fakeNode struct {
	mu      sync.Mutex
	results map[string]string
	calls   []rpcRequest
}

func newFakeNode(t *testing.T, results map[string]string) (*fakeNode, *httptest.Server) {
	node := &fakeNode{results: results}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		node.mu.Lock()
		node.calls = append(node.calls, req)
		result, ok := node.results[req.Method]
		node.mu.Unlock()

		id := string(req.ID)
		if id == "" {
			id = "0"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + id + `,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + id + `,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return node, srv
}

const transferCheckedTx = `{
  "slot": 321,
  "blockTime": 1700000000,
  "meta": {"err": null, "innerInstructions": []},
  "transaction": {
    "signatures": ["sig"],
    "message": {
      "instructions": [
        {"program": "system", "programId": "11111111111111111111111111111111", "parsed": {"type": "transfer", "info": {"source": "a", "destination": "b", "lamports": 5}}},
        {"program": "spl-memo", "programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", "parsed": "hello"},
        {"program": "spl-token", "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "parsed": {"type": "transferChecked", "info": {
          "source": "SRC", "destination": "DST", "mint": "MINT", "authority": "OWNER",
          "tokenAmount": {"amount": "1000000000", "decimals": 6, "uiAmount": 1000.0, "uiAmountString": "1000"}
        }}}
      ]
    }
  }
}`

func TestClient_ParsedTransaction(t *testing.T) {
	node, srv := newFakeNode(t, map[string]string{"getTransaction": transferCheckedTx})
	client := NewClient(srv.URL, "confirmed", true)

	tx, err := client.ParsedTransaction(context.Background(), "sig")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.False(t, tx.Failed())
	assert.Equal(t, uint64(321), tx.Slot)

	var transfers []*TokenTransfer
	for _, ix := range tx.Instructions() {
		if tr, ok := ix.TokenTransfer(); ok {
			transfers = append(transfers, tr)
		}
	}
	require.Len(t, transfers, 1)
	assert.Equal(t, "transferChecked", transfers[0].Type)
	assert.Equal(t, "SRC", transfers[0].Source)
	assert.Equal(t, "DST", transfers[0].Destination)
	assert.Equal(t, "MINT", transfers[0].Mint)
	assert.Equal(t, uint64(1000000000), transfers[0].Amount)

	require.Len(t, node.calls, 1)
	require.Len(t, node.calls[0].Params, 2)
	var opts map[string]interface{}
	require.NoError(t, json.Unmarshal(node.calls[0].Params[1], &opts))
	assert.Equal(t, "jsonParsed", opts["encoding"])
	assert.EqualValues(t, 0, opts["maxSupportedTransactionVersion"])
}

func TestClient_ParsedTransaction_Unknown(t *testing.T) {
	_, srv := newFakeNode(t, map[string]string{"getTransaction": "null"})
	client := NewClient(srv.URL, "confirmed", true)

	tx, err := client.ParsedTransaction(context.Background(), "sig")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestClient_TransactionStatus(t *testing.T) {
	_, srv := newFakeNode(t, map[string]string{"getTransaction": `{"slot": 99, "meta": {"err": {"InstructionError": [0, "Custom"]}}}`})
	client := NewClient(srv.URL, "confirmed", true)

	status, err := client.TransactionStatus(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, Failed, status.State)
	assert.Equal(t, uint64(99), status.Slot)
}

func TestClient_RecentSignatures(t *testing.T) {
	sig := solana.Signature{1, 2, 3}
	_, srv := newFakeNode(t, map[string]string{
		"getSignaturesForAddress": `[{"signature":"` + sig.String() + `","slot":5,"err":null,"memo":null,"blockTime":null,"confirmationStatus":"confirmed"}]`,
	})
	client := NewClient(srv.URL, "confirmed", true)

	sigs, err := client.RecentSignatures(context.Background(), solana.SystemProgramID, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{sig.String()}, sigs)
}

func TestClient_RPCError(t *testing.T) {
	_, srv := newFakeNode(t, map[string]string{})
	client := NewClient(srv.URL, "confirmed", true)

	_, err := client.TransactionStatus(context.Background(), "sig")
	assert.Error(t, err)
}

func TestNormalizeConfirmation(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		state ConfirmationState
		slot  uint64
	}{
		{"empty", ``, Pending, 0},
		{"null", `null`, Pending, 0},
		{"empty list", `[]`, Pending, 0},
		{"list of null", `[null]`, Pending, 0},
		{"transaction ok", `{"slot": 7, "meta": {"err": null}}`, Succeeded, 7},
		{"transaction failed", `{"slot": 7, "meta": {"err": {"InstructionError": [1, {"Custom": 6001}]}}}`, Failed, 7},
		{"status processed", `{"slot": 8, "err": null, "confirmationStatus": "processed"}`, Pending, 8},
		{"status finalized", `{"slot": 8, "err": null, "confirmationStatus": "finalized"}`, Succeeded, 8},
		{"status error", `{"slot": 8, "err": "AccountInUse", "confirmationStatus": "confirmed"}`, Failed, 8},
		{"status list", `[{"slot": 9, "err": null, "confirmationStatus": "confirmed"}, null]`, Succeeded, 9},
		{"list with later error", `[{"slot": 9, "err": null, "confirmationStatus": "confirmed"}, {"slot": 9, "err": {"InstructionError": [1, {"Custom": 6001}]}}]`, Failed, 9},
		{"list with later meta error", `[{"slot": 9, "meta": {"err": null}}, null, {"slot": 10, "meta": {"err": "AccountInUse"}}]`, Failed, 10},
		{"list all processed", `[{"slot": 9, "err": null, "confirmationStatus": "processed"}, null]`, Pending, 9},
		{"list processed then confirmed", `[{"slot": 9, "err": null, "confirmationStatus": "processed"}, {"slot": 11, "err": null, "confirmationStatus": "confirmed"}]`, Succeeded, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeConfirmation(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.state, got.State)
			assert.Equal(t, tt.slot, got.Slot)
		})
	}

	_, err := NormalizeConfirmation(json.RawMessage(`{"slot": "x"`))
	assert.Error(t, err)
}

func TestTokenTransfer_PlainTransfer(t *testing.T) {
	ix := ParsedInstruction{
		Program: "spl-token",
		Parsed:  json.RawMessage(`{"type":"transfer","info":{"source":"S","destination":"D","authority":"A","amount":"42"}}`),
	}
	tr, ok := ix.TokenTransfer()
	require.True(t, ok)
	assert.Equal(t, uint64(42), tr.Amount)
	assert.Empty(t, tr.Mint)

	ix.Parsed = json.RawMessage(`{"type":"initializeAccount","info":{}}`)
	_, ok = ix.TokenTransfer()
	assert.False(t, ok)

	ix.Program = "spl-memo"
	ix.Parsed = json.RawMessage(`"memo"`)
	_, ok = ix.TokenTransfer()
	assert.False(t, ok)
}

func TestWallet_SignInPlace(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w := WalletFromKey(key)

	tx, err := BuildTip(w, solana.SystemProgramID, 1000, solana.Hash{9})
	require.NoError(t, err)
	require.NoError(t, tx.VerifySignatures())

	// Simulate a transaction delivered unsigned by an aggregator.
	tx.Signatures = []solana.Signature{{}}
	require.NoError(t, w.SignInPlace(tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())

	other, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	assert.Error(t, WalletFromKey(other).SignInPlace(tx))
}

type staticAccounts bool

func (s staticAccounts) AccountExists(context.Context, solana.PublicKey) (bool, error) {
	return bool(s), nil
}

func TestBuildTokenTransfers(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w := WalletFromKey(key)

	recipient, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	req := TokenTransferRequest{
		Mint:      solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		Decimals:  6,
		Recipient: recipient.PublicKey(),
		Amount:    950_000_000,
		Blockhash: solana.Hash{1},
	}

	txs, err := BuildTokenTransfers(context.Background(), staticAccounts(false), w, req)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.NoError(t, tx.VerifySignatures())
	}

	txs, err = BuildTokenTransfers(context.Background(), staticAccounts(true), w, req)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	req.Amount = 0
	_, err = BuildTokenTransfers(context.Background(), staticAccounts(true), w, req)
	assert.Error(t, err)
}
