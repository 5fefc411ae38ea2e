package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client wraps the Solana JSON-RPC calls the pipeline makes.
type Client struct {
	rpc           *rpc.Client
	commitment    rpc.CommitmentType
	skipPreflight bool
}

// NewClient creates a client for endpoint. commitment is one of
// "processed", "confirmed" or "finalized".
func NewClient(endpoint, commitment string, skipPreflight bool) *Client {
	return &Client{
		rpc:           rpc.New(endpoint),
		commitment:    ParseCommitment(commitment),
		skipPreflight: skipPreflight,
	}
}

// ParseCommitment maps a config value onto an RPC commitment level,
// defaulting to confirmed.
func ParseCommitment(s string) rpc.CommitmentType {
	switch strings.ToLower(s) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}

// LatestBlockhash returns a recent blockhash for new transactions.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// BlockHeight returns the current block height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := c.rpc.GetBlockHeight(ctx, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}
	return height, nil
}

// RecentSignatures lists the newest signatures touching account, newest first.
func (c *Client) RecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]string, error) {
	out, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, account, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures for %s: %w", account, err)
	}

	sigs := make([]string, 0, len(out))
	for _, s := range out {
		sigs = append(sigs, s.Signature.String())
	}
	return sigs, nil
}

// ParsedTransaction fetches a transaction with jsonParsed encoding. It
// returns nil without error when the node does not know the signature yet.
func (c *Client) ParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	var out *ParsedTransaction
	err := c.rpc.RPCCallForInto(ctx, &out, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     rpc.CommitmentConfirmed,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	return out, nil
}

// TransactionStatus reports whether signature has landed, failed or is
// still pending.
func (c *Client) TransactionStatus(ctx context.Context, signature string) (Confirmation, error) {
	var raw json.RawMessage
	err := c.rpc.RPCCallForInto(ctx, &raw, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     rpc.CommitmentConfirmed,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return Confirmation{}, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	return NormalizeConfirmation(raw)
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig.String(), nil
}

// AccountExists checks if an account exists on-chain
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get account %s: %w", account, err)
	}
	return info != nil && info.Value != nil, nil
}
