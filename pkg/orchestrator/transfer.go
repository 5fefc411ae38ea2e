package orchestrator

import (
	"context"
	"fmt"

	"swapbot/pkg/chain"
	"swapbot/pkg/types"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// TransferBuilder builds the signed transactions that pay the principal to
// the exchange payin address.
type TransferBuilder interface {
	Build(ctx context.Context, payinAddress string, amount decimal.Decimal) ([]*solana.Transaction, error)
}

// TransferChain is the RPC surface the principal transfer needs.
type TransferChain interface {
	chain.AccountChecker
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type principalTransfer struct {
	chain    TransferChain
	wallet   *chain.Wallet
	mint     solana.PublicKey
	decimals uint8
}

// NewTransferBuilder pays mint tokens from w.
func NewTransferBuilder(c TransferChain, w *chain.Wallet, mint solana.PublicKey, decimals uint8) TransferBuilder {
	return &principalTransfer{chain: c, wallet: w, mint: mint, decimals: decimals}
}

func (p *principalTransfer) Build(ctx context.Context, payinAddress string, amount decimal.Decimal) ([]*solana.Transaction, error) {
	recipient, err := solana.PublicKeyFromBase58(payinAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid payin address %q: %w", payinAddress, err)
	}
	units, err := types.ToBaseUnits(amount, p.decimals)
	if err != nil {
		return nil, err
	}
	blockhash, err := p.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	return chain.BuildTokenTransfers(ctx, p.chain, p.wallet, chain.TokenTransferRequest{
		Mint:      p.mint,
		Decimals:  p.decimals,
		Recipient: recipient,
		Amount:    units,
		Blockhash: blockhash,
	})
}
