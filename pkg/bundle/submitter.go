package bundle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"swapbot/pkg/chain"
	"swapbot/pkg/poll"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

const (
	// MinimumTip is the smallest tip in lamports the relay accepts.
	MinimumTip = 1000
	// MaxTransactions is the relay limit on transactions per bundle, tip
	// included.
	MaxTransactions = 5
	// MaxCallerTransactions leaves room for the prepended tip transfer.
	MaxCallerTransactions = MaxTransactions - 1
)

// TipAccounts are the relay's whitelisted tip receivers.
var TipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

var (
	ErrBundleSize = fmt.Errorf("bundle must contain between 1 and %d transactions besides the tip", MaxCallerTransactions)
	ErrTipTooLow  = fmt.Errorf("tip must be at least %d lamports", MinimumTip)
)

// Status is the outcome of a bundle as far as it could be observed.
type Status string

const (
	StatusInvalid Status = "Invalid"
	StatusPending Status = "Pending"
	StatusFailed  Status = "Failed"
	StatusLanded  Status = "Landed"
)

// Terminal reports whether the relay will not report anything new.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Result of a submission. Slot is set only for StatusLanded.
type Result struct {
	BundleID   string
	Status     Status
	Slot       *uint64
	TipAccount solana.PublicKey
}

// Relay submits bundles and reports their statuses.
type Relay interface {
	SendBundle(ctx context.Context, encoded []string) (string, error)
	BundleStatuses(ctx context.Context, ids []string) ([]Entry, error)
}

// Blockhasher supplies the blockhash for the tip transaction.
type Blockhasher interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type Config struct {
	PollInterval time.Duration
	MaxPolls     int
}

// Submitter sends transactions as one atomic tipped bundle.
type Submitter struct {
	relay  Relay
	chain  Blockhasher
	wallet *chain.Wallet
	cfg    Config
	logger *zap.Logger
	pick   func(n int) int
}

func NewSubmitter(relay Relay, c Blockhasher, w *chain.Wallet, cfg Config, logger *zap.Logger) *Submitter {
	if cfg.MaxPolls < 1 {
		cfg.MaxPolls = 1
	}
	return &Submitter{
		relay:  relay,
		chain:  c,
		wallet: w,
		cfg:    cfg,
		logger: logger.Named("bundle"),
		pick:   rand.Intn,
	}
}

// Validate checks the relay limits without touching the network.
func Validate(txs []*solana.Transaction, tip uint64) error {
	if len(txs) < 1 || len(txs) > MaxCallerTransactions {
		return fmt.Errorf("%w, got %d", ErrBundleSize, len(txs))
	}
	if tip < MinimumTip {
		return fmt.Errorf("%w, got %d", ErrTipTooLow, tip)
	}
	for i, tx := range txs {
		if tx == nil {
			return fmt.Errorf("transaction %d is nil", i)
		}
	}
	return nil
}

// Classify maps a relay entry onto a Status.
func Classify(e Entry) (Status, *uint64) {
	switch strings.ToLower(e.ConfirmationStatus) {
	case "finalized":
		slot := e.Slot
		return StatusLanded, &slot
	case "processed", "confirmed":
		return StatusPending, nil
	}
	if e.Failed() {
		return StatusFailed, nil
	}
	return StatusInvalid, nil
}

// Submit prepends a tip transfer to txs, sends the bundle and polls its
// status. A bundle still pending once the poll budget is spent is returned
// as StatusPending without error.
func (s *Submitter) Submit(ctx context.Context, txs []*solana.Transaction, tip uint64) (*Result, error) {
	if err := Validate(txs, tip); err != nil {
		return nil, err
	}

	blockhash, err := s.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tipAccount := solana.MustPublicKeyFromBase58(TipAccounts[s.pick(len(TipAccounts))])
	tipTx, err := chain.BuildTip(s.wallet, tipAccount, tip, blockhash)
	if err != nil {
		return nil, fmt.Errorf("failed to build tip: %w", err)
	}

	ordered := append([]*solana.Transaction{tipTx}, txs...)
	encoded := make([]string, 0, len(ordered))
	for i, tx := range ordered {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %d: %w", i, err)
		}
		encoded = append(encoded, base58.Encode(raw))
	}

	id, err := s.relay.SendBundle(ctx, encoded)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("bundle", id))
	log.Info("bundle sent",
		zap.Int("transactions", len(ordered)),
		zap.Uint64("tip", tip),
		zap.Stringer("tip_account", tipAccount))

	result := &Result{BundleID: id, Status: StatusPending, TipAccount: tipAccount}
	err = poll.Attempts(ctx, s.cfg.PollInterval, s.cfg.MaxPolls, func(ctx context.Context) (bool, error) {
		entry, found, err := s.lookup(ctx, id)
		if err != nil {
			log.Debug("bundle status check failed", zap.Error(err))
			return false, nil
		}
		if !found {
			return false, nil
		}
		result.Status, result.Slot = Classify(entry)
		return result.Status.Terminal(), nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		log.Warn("bundle still pending after poll budget", zap.Int("polls", s.cfg.MaxPolls))
		result.Status, result.Slot = StatusPending, nil
		return result, nil
	}
	if err != nil {
		return result, err
	}

	log.Info("bundle resolved", zap.String("status", string(result.Status)))
	return result, nil
}

// Status queries the relay once. A bundle the relay no longer knows is
// reported as StatusInvalid.
func (s *Submitter) Status(ctx context.Context, id string) (*Result, error) {
	entry, found, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &Result{BundleID: id, Status: StatusInvalid}
	if found {
		result.Status, result.Slot = Classify(entry)
	}
	return result, nil
}

func (s *Submitter) lookup(ctx context.Context, id string) (Entry, bool, error) {
	entries, err := s.relay.BundleStatuses(ctx, []string{id})
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.BundleID == id || e.BundleID == "" {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
