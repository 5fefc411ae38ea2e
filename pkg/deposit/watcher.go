package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapbot/pkg/chain"
	"swapbot/pkg/ledger"
	"swapbot/pkg/poll"
	"swapbot/pkg/types"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrTimedOut is returned when no sufficient deposit arrived in time.
var ErrTimedOut = errors.New("deposit not received before timeout")

// Chain is the slice of the Solana RPC the watcher reads.
type Chain interface {
	RecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]string, error)
	ParsedTransaction(ctx context.Context, signature string) (*chain.ParsedTransaction, error)
}

// Config controls where and how long the watcher looks.
type Config struct {
	Mint           solana.PublicKey
	Decimals       uint8
	Intermediary   solana.PublicKey
	PollInterval   time.Duration
	Timeout        time.Duration
	SignatureLimit int
	// Retention is how long processed signatures are kept. It must exceed
	// Timeout, so no signature still visible to a scan is pruned.
	Retention time.Duration
}

// Expectation describes the deposit a workflow waits for.
type Expectation struct {
	UserID int64
	Owner  solana.PublicKey
	Amount decimal.Decimal
}

// Deposit is a detected, claimed and sufficient deposit.
type Deposit struct {
	Signature string
	Amount    decimal.Decimal
	Slot      uint64
}

// Watcher detects user deposits into the intermediary token account.
type Watcher struct {
	chain      Chain
	ledger     ledger.Ledger
	cfg        Config
	logger     *zap.Logger
	depositATA solana.PublicKey
}

// NewWatcher creates a watcher for deposits of cfg.Mint into the
// intermediary's associated token account.
func NewWatcher(c Chain, l ledger.Ledger, cfg Config, logger *zap.Logger) (*Watcher, error) {
	ata, err := chain.TokenAccount(cfg.Intermediary, cfg.Mint)
	if err != nil {
		return nil, err
	}
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = 20
	}
	return &Watcher{
		chain:      c,
		ledger:     l,
		cfg:        cfg,
		logger:     logger.Named("deposit"),
		depositATA: ata,
	}, nil
}

// DepositAddress is the token account users send to.
func (w *Watcher) DepositAddress() solana.PublicKey {
	return w.depositATA
}

// AwaitDeposit polls until a sufficient deposit from exp.Owner is claimed
// for exp.UserID, or the timeout elapses.
func (w *Watcher) AwaitDeposit(ctx context.Context, exp Expectation) (*Deposit, error) {
	if w.cfg.Retention > 0 {
		pruned, err := w.ledger.PruneProcessed(ctx, exp.UserID, time.Now().Add(-w.cfg.Retention))
		if err != nil {
			w.logger.Warn("failed to prune processed signatures", zap.Int64("user", exp.UserID), zap.Error(err))
		} else if pruned > 0 {
			w.logger.Debug("pruned processed signatures", zap.Int64("user", exp.UserID), zap.Int("count", pruned))
		}
	}

	s, err := w.newScan(exp)
	if err != nil {
		return nil, err
	}

	var found *Deposit
	err = poll.Until(ctx, w.cfg.PollInterval, w.cfg.Timeout, func(ctx context.Context) (bool, error) {
		dep, err := s.run(ctx)
		if err != nil {
			w.logger.Warn("deposit scan failed, retrying", zap.Int64("user", exp.UserID), zap.Error(err))
			return false, nil
		}
		found = dep
		return dep != nil, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		msg := fmt.Sprintf("no deposit of %s USDC received within %s", exp.Amount, w.cfg.Timeout)
		return nil, types.NewError(types.KindTimeoutExhausted, "deposit.await", msg, ErrTimedOut)
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ScanOnce runs a single detection cycle. It returns nil when no new
// sufficient deposit was found.
func (w *Watcher) ScanOnce(ctx context.Context, exp Expectation) (*Deposit, error) {
	s, err := w.newScan(exp)
	if err != nil {
		return nil, err
	}
	return s.run(ctx)
}

// scan holds the per-run state of one AwaitDeposit call.
type scan struct {
	w         *Watcher
	exp       Expectation
	sourceATA string
	// ignored holds signatures that can never match this expectation.
	ignored map[string]struct{}
}

func (w *Watcher) newScan(exp Expectation) (*scan, error) {
	ata, err := chain.TokenAccount(exp.Owner, w.cfg.Mint)
	if err != nil {
		return nil, err
	}
	return &scan{
		w:         w,
		exp:       exp,
		sourceATA: ata.String(),
		ignored:   make(map[string]struct{}),
	}, nil
}

func (s *scan) run(ctx context.Context) (*Deposit, error) {
	w := s.w
	sigs, err := w.chain.RecentSignatures(ctx, w.depositATA, w.cfg.SignatureLimit)
	if err != nil {
		return nil, err
	}

	for _, sig := range sigs {
		if _, skip := s.ignored[sig]; skip {
			continue
		}

		processed, err := w.ledger.IsProcessed(ctx, s.exp.UserID, sig)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", sig, err)
		}
		if processed {
			continue
		}

		tx, err := w.chain.ParsedTransaction(ctx, sig)
		if err != nil {
			w.logger.Warn("failed to fetch transaction", zap.String("signature", sig), zap.Error(err))
			continue
		}
		if tx == nil {
			continue
		}
		if tx.Failed() {
			s.ignored[sig] = struct{}{}
			continue
		}

		transfer := s.match(tx)
		if transfer == nil {
			s.ignored[sig] = struct{}{}
			continue
		}

		dep, err := s.claim(ctx, sig, tx.Slot, transfer)
		if err != nil {
			return nil, err
		}
		if dep != nil {
			return dep, nil
		}
	}
	return nil, nil
}

func (s *scan) match(tx *chain.ParsedTransaction) *chain.TokenTransfer {
	mint := s.w.cfg.Mint.String()
	dest := s.w.depositATA.String()

	for _, ix := range tx.Instructions() {
		tr, ok := ix.TokenTransfer()
		if !ok {
			continue
		}
		if tr.Source != s.sourceATA || tr.Destination != dest {
			continue
		}
		if tr.Mint != "" && tr.Mint != mint {
			continue
		}
		return tr
	}
	return nil
}

// claim marks sig processed for the user and records it. Only the caller
// that wins the claim sees the deposit.
func (s *scan) claim(ctx context.Context, sig string, slot uint64, tr *chain.TokenTransfer) (*Deposit, error) {
	w := s.w
	log := w.logger.With(zap.String("signature", sig), zap.Int64("user", s.exp.UserID))

	claimed, err := w.ledger.MarkProcessed(ctx, s.exp.UserID, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s: %w", sig, err)
	}
	if !claimed {
		log.Debug("deposit already claimed")
		return nil, nil
	}

	amount := types.FromBaseUnits(tr.Amount, w.cfg.Decimals)
	sufficient := amount.GreaterThanOrEqual(s.exp.Amount)

	err = w.ledger.Create(ctx, &ledger.Record{
		Signature:      sig,
		UserID:         s.exp.UserID,
		Amount:         amount,
		ExpectedAmount: s.exp.Amount,
		Sufficient:     sufficient,
		Stage:          ledger.StageDepositDetected,
	})
	if errors.Is(err, ledger.ErrDuplicateKey) {
		log.Debug("deposit record already exists")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record %s: %w", sig, err)
	}

	log.Info("deposit detected", zap.String("amount", amount.String()), zap.Bool("sufficient", sufficient))

	if !sufficient {
		reason := fmt.Sprintf("deposit of %s is below the expected %s", amount, s.exp.Amount)
		if _, err := w.ledger.Advance(ctx, sig, ledger.StageFailed, ledger.Update{FailureReason: reason}); err != nil {
			log.Warn("failed to close insufficient deposit", zap.Error(err))
		}
		return nil, nil
	}

	return &Deposit{Signature: sig, Amount: amount, Slot: slot}, nil
}
