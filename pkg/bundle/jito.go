package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Entry is one element of a getBundleStatuses answer.
type Entry struct {
	BundleID           string          `json:"bundle_id"`
	Transactions       []string        `json:"transactions"`
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmation_status"`
	Err                json.RawMessage `json:"err"`
}

// Failed reports whether the relay attached an execution error. The relay
// encodes success as {"Ok": null}.
func (e Entry) Failed() bool {
	raw := strings.TrimSpace(string(e.Err))
	if raw == "" || raw == "null" {
		return false
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(e.Err, &result); err == nil {
		if _, ok := result["Ok"]; ok {
			return false
		}
	}
	return true
}

// JitoClient speaks the block engine bundle JSON-RPC API.
type JitoClient struct {
	rpc jsonrpc.RPCClient
}

// NewJitoClient creates a client for blockEngine, either a host name such as
// mainnet.block-engine.jito.wtf or a full URL.
func NewJitoClient(blockEngine string) *JitoClient {
	endpoint := strings.TrimRight(blockEngine, "/")
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	if !strings.HasSuffix(endpoint, "/api/v1/bundles") {
		endpoint += "/api/v1/bundles"
	}
	return &JitoClient{rpc: jsonrpc.NewClient(endpoint)}
}

// SendBundle submits base58 encoded transactions and returns the bundle id.
func (c *JitoClient) SendBundle(ctx context.Context, encoded []string) (string, error) {
	var id string
	params := []interface{}{encoded, map[string]string{"encoding": "base58"}}
	if err := c.rpc.CallForInto(ctx, &id, "sendBundle", params); err != nil {
		return "", fmt.Errorf("failed to send bundle: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("failed to send bundle: empty bundle id")
	}
	return id, nil
}

// BundleStatuses returns the relay's view of ids. Unknown ids are absent.
func (c *JitoClient) BundleStatuses(ctx context.Context, ids []string) ([]Entry, error) {
	var out struct {
		Value []*Entry `json:"value"`
	}
	if err := c.rpc.CallForInto(ctx, &out, "getBundleStatuses", []interface{}{ids}); err != nil {
		return nil, fmt.Errorf("failed to get bundle statuses: %w", err)
	}

	entries := make([]Entry, 0, len(out.Value))
	for _, e := range out.Value {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}
