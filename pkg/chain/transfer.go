package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// AccountChecker reports whether an on-chain account exists.
type AccountChecker interface {
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
}

// TokenTransferRequest describes an SPL token payment from the wallet.
type TokenTransferRequest struct {
	Mint      solana.PublicKey
	Decimals  uint8
	Recipient solana.PublicKey
	Amount    uint64
	Blockhash solana.Hash
}

// BuildTokenTransfers returns the signed transactions that move req.Amount
// base units of req.Mint from the wallet to the recipient. When the
// recipient has no associated token account yet, a creation transaction
// comes first.
func BuildTokenTransfers(ctx context.Context, accounts AccountChecker, w *Wallet, req TokenTransferRequest) ([]*solana.Transaction, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("transfer amount must be greater than 0")
	}

	source, err := w.TokenAccount(req.Mint)
	if err != nil {
		return nil, err
	}
	dest, err := TokenAccount(req.Recipient, req.Mint)
	if err != nil {
		return nil, err
	}

	exists, err := accounts.AccountExists(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to check destination account: %w", err)
	}

	var txs []*solana.Transaction
	if !exists {
		create := associatedtokenaccount.NewCreateInstruction(
			w.PublicKey(),
			req.Recipient,
			req.Mint,
		).Build()
		tx, err := w.newSigned([]solana.Instruction{create}, req.Blockhash)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	transfer := token.NewTransferCheckedInstruction(
		req.Amount,
		req.Decimals,
		source,
		req.Mint,
		dest,
		w.PublicKey(),
		[]solana.PublicKey{},
	).Build()
	tx, err := w.newSigned([]solana.Instruction{transfer}, req.Blockhash)
	if err != nil {
		return nil, err
	}
	return append(txs, tx), nil
}

// BuildTip returns a signed system transfer of lamports to tipAccount.
func BuildTip(w *Wallet, tipAccount solana.PublicKey, lamports uint64, blockhash solana.Hash) (*solana.Transaction, error) {
	ix := system.NewTransferInstruction(lamports, w.PublicKey(), tipAccount).Build()
	return w.newSigned([]solana.Instruction{ix}, blockhash)
}

func (w *Wallet) newSigned(ixs []solana.Instruction, blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(w.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	if err := w.Sign(tx); err != nil {
		return nil, err
	}
	return tx, nil
}
