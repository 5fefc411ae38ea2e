package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapbot/pkg/chain"
	"swapbot/pkg/jupiter"
	"swapbot/pkg/ledger"
	"swapbot/pkg/poll"
	"swapbot/pkg/types"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrConfirmTimeout is returned when a sent swap was never observed on chain.
	ErrConfirmTimeout = errors.New("swap confirmation timed out")
	// ErrReverted is returned when the swap landed with an execution error.
	ErrReverted = errors.New("swap transaction failed on chain")
)

// Aggregator quotes and builds swap transactions.
type Aggregator interface {
	GetQuote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error)
	SwapTransaction(ctx context.Context, req jupiter.SwapRequest) (*solana.Transaction, error)
}

// Chain submits transactions and reports their status.
type Chain interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error)
	TransactionStatus(ctx context.Context, signature string) (chain.Confirmation, error)
}

type Config struct {
	InputMint        solana.PublicKey
	OutputMint       solana.PublicKey
	InputDecimals    uint8
	BasePriorityFee  uint64
	ComputeUnitLimit uint32
	QuoteSlippageBps int
	SwapSlippageBps  int
	MaxAttempts      int
	ConfirmInterval  time.Duration
	ConfirmTimeout   time.Duration
	RetryDelay       time.Duration
}

// Failure is returned once every attempt failed.
type Failure struct {
	LastSignature string
	Attempts      int
	Err           error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("fee swap failed after %d attempts: %v", f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// PriorityFee returns the compute unit price for attempt, doubling from base.
func PriorityFee(base uint64, attempt int) uint64 {
	return base << uint(attempt)
}

// Executor converts the service fee into the fee token.
type Executor struct {
	aggregator Aggregator
	chain      Chain
	ledger     ledger.Ledger
	wallet     *chain.Wallet
	cfg        Config
	logger     *zap.Logger
}

func NewExecutor(agg Aggregator, c Chain, l ledger.Ledger, w *chain.Wallet, cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Executor{
		aggregator: agg,
		chain:      c,
		ledger:     l,
		wallet:     w,
		cfg:        cfg,
		logger:     logger.Named("swap"),
	}
}

// ExecuteFeeSwap swaps fee for the deposit identified by depositSignature.
// Every attempt uses a fresh quote and a higher priority fee. It returns
// the confirmed swap signature.
func (e *Executor) ExecuteFeeSwap(ctx context.Context, depositSignature string, fee decimal.Decimal) (string, error) {
	log := e.logger.With(zap.String("deposit", depositSignature))

	if _, err := e.ledger.Advance(ctx, depositSignature, ledger.StageFeeSwapping, ledger.Update{}); err != nil {
		return "", fmt.Errorf("failed to start fee swap: %w", err)
	}

	units, err := types.ToBaseUnits(fee, e.cfg.InputDecimals)
	if err != nil {
		return "", err
	}
	if units == 0 {
		log.Info("no fee to swap")
		if _, err := e.ledger.Advance(ctx, depositSignature, ledger.StageFeeSwapped, ledger.Update{}); err != nil {
			return "", fmt.Errorf("failed to record fee swap: %w", err)
		}
		return "", nil
	}

	var (
		lastSig string
		lastErr error
	)
	delay := e.cfg.RetryDelay

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		priority := PriorityFee(e.cfg.BasePriorityFee, attempt)
		sig, err := e.attempt(ctx, units, priority)

		entry := &ledger.SwapAttempt{
			Attempt:     attempt,
			PriorityFee: priority,
			Signature:   sig,
			At:          time.Now(),
		}
		if sig != "" {
			lastSig = sig
		}

		if err == nil {
			log.Info("fee swap confirmed", zap.String("signature", sig), zap.Int("attempt", attempt))
			if _, err := e.ledger.Advance(ctx, depositSignature, ledger.StageFeeSwapped, ledger.Update{
				FeeSwapSignature: sig,
				Attempt:          entry,
			}); err != nil {
				return sig, fmt.Errorf("failed to record fee swap: %w", err)
			}
			return sig, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		entry.Error = err.Error()
		log.Warn("fee swap attempt failed",
			zap.Int("attempt", attempt),
			zap.Uint64("priority_fee", priority),
			zap.String("signature", sig),
			zap.Error(err))

		if _, err := e.ledger.Advance(ctx, depositSignature, ledger.StageFeeSwapping, ledger.Update{Attempt: entry}); err != nil {
			return "", fmt.Errorf("failed to record swap attempt: %w", err)
		}

		if attempt == e.cfg.MaxAttempts-1 {
			break
		}
		if err := poll.Sleep(ctx, delay); err != nil {
			return "", err
		}
		delay *= 2
	}

	failure := &Failure{LastSignature: lastSig, Attempts: e.cfg.MaxAttempts, Err: lastErr}
	if _, err := e.ledger.Advance(ctx, depositSignature, ledger.StageFailed, ledger.Update{
		FailureReason: failure.Error(),
	}); err != nil {
		log.Error("failed to mark deposit failed", zap.Error(err))
	}

	kind := types.KindTransient
	if errors.Is(lastErr, ErrConfirmTimeout) {
		kind = types.KindTimeoutExhausted
	}
	msg := fmt.Sprintf("the fee swap did not confirm after %d attempts; your deposit is recorded and can be reviewed with its signature", failure.Attempts)
	return "", types.NewError(kind, "swap.fee", msg, failure)
}

// attempt runs one quote, build, sign, send and confirm cycle. The returned
// signature is set as soon as the transaction was sent.
func (e *Executor) attempt(ctx context.Context, units, priorityFee uint64) (string, error) {
	quote, err := e.aggregator.GetQuote(ctx, jupiter.QuoteRequest{
		InputMint:   e.cfg.InputMint.String(),
		OutputMint:  e.cfg.OutputMint.String(),
		Amount:      units,
		SlippageBps: e.cfg.QuoteSlippageBps,
	})
	if err != nil {
		return "", err
	}

	tx, err := e.aggregator.SwapTransaction(ctx, jupiter.SwapRequest{
		Quote:                         quote,
		User:                          e.wallet.PublicKey(),
		ComputeUnitPriceMicroLamports: priorityFee,
		ComputeUnitsLimit:             e.cfg.ComputeUnitLimit,
		SlippageBps:                   e.cfg.SwapSlippageBps,
	})
	if err != nil {
		return "", err
	}
	if err := e.wallet.SignInPlace(tx); err != nil {
		return "", err
	}

	sig, err := e.chain.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}

	return sig, e.confirm(ctx, sig)
}

func (e *Executor) confirm(ctx context.Context, sig string) error {
	var (
		reverted bool
		detail   string
	)
	err := poll.Until(ctx, e.cfg.ConfirmInterval, e.cfg.ConfirmTimeout, func(ctx context.Context) (bool, error) {
		status, err := e.chain.TransactionStatus(ctx, sig)
		if err != nil {
			e.logger.Debug("status check failed", zap.String("signature", sig), zap.Error(err))
			return false, nil
		}
		switch status.State {
		case chain.Succeeded:
			return true, nil
		case chain.Failed:
			reverted, detail = true, status.Err
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return ErrConfirmTimeout
	}
	if err != nil {
		return err
	}
	if reverted {
		return fmt.Errorf("%w: %s", ErrReverted, detail)
	}
	return nil
}
