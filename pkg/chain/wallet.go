package chain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet is the intermediary wallet. It receives user deposits and signs
// the fee swap, the principal transfer and the bundle tip.
type Wallet struct {
	key solana.PrivateKey
}

// NewWallet parses a base58 encoded private key.
func NewWallet(privateKey string) (*Wallet, error) {
	key, err := solana.PrivateKeyFromBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{key: key}, nil
}

// WalletFromKey wraps an already decoded key.
func WalletFromKey(key solana.PrivateKey) *Wallet {
	return &Wallet{key: key}
}

func (w *Wallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

// TokenAccount derives the wallet's associated token account for mint.
func (w *Wallet) TokenAccount(mint solana.PublicKey) (solana.PublicKey, error) {
	return TokenAccount(w.PublicKey(), mint)
}

// TokenAccount derives the associated token account of owner for mint.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// Sign signs a transaction built locally with the wallet as the only signer.
func (w *Wallet) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey()) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// SignInPlace fills the wallet's signature slot of a transaction that was
// built elsewhere and arrives with placeholder signatures.
func (w *Wallet) SignInPlace(tx *solana.Transaction) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if required > len(tx.Message.AccountKeys) {
		return fmt.Errorf("malformed message: %d signers, %d keys", required, len(tx.Message.AccountKeys))
	}

	index := -1
	for i, key := range tx.Message.AccountKeys[:required] {
		if key.Equals(w.PublicKey()) {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("wallet %s is not a signer of the transaction", w.PublicKey())
	}

	content, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	sig, err := w.key.Sign(content)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}

	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[index] = sig
	return nil
}
