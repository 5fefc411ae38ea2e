package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapbot/pkg/cache"
	"swapbot/pkg/ledger"
	"swapbot/pkg/poll"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reference prices the net amount independently of the provider.
type Reference interface {
	Expected(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
}

type Config struct {
	MinAmountTTL     time.Duration
	MaxRateDeviation decimal.Decimal
	StatusInterval   time.Duration
	StatusTimeout    time.Duration
}

// Initiator opens and tracks exchange orders for deposits.
type Initiator struct {
	provider  Provider
	ledger    ledger.Ledger
	cache     cache.Cache
	reference Reference
	cfg       Config
	logger    *zap.Logger
}

// NewInitiator wires a provider to the ledger. reference may be nil to skip
// the rate deviation check.
func NewInitiator(p Provider, l ledger.Ledger, c cache.Cache, reference Reference, cfg Config, logger *zap.Logger) *Initiator {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Initiator{
		provider:  p,
		ledger:    l,
		cache:     c,
		reference: reference,
		cfg:       cfg,
		logger:    logger.Named("exchange").With(zap.String("provider", p.Name())),
	}
}

func (i *Initiator) ProviderName() string {
	return i.provider.Name()
}

func (i *Initiator) minAmountKey() string {
	return "min-amount:" + i.provider.Name()
}

// MinAmount returns the provider minimum, cached for MinAmountTTL.
func (i *Initiator) MinAmount(ctx context.Context) (decimal.Decimal, error) {
	key := i.minAmountKey()

	cached, ok, err := i.cache.Get(ctx, key)
	if err != nil {
		i.logger.Warn("min amount cache read failed", zap.Error(err))
	}
	if ok {
		if v, err := decimal.NewFromString(cached); err == nil {
			return v, nil
		}
	}

	minimum, err := i.provider.MinAmount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := i.cache.Set(ctx, key, minimum.String(), i.cfg.MinAmountTTL); err != nil {
		i.logger.Warn("min amount cache write failed", zap.Error(err))
	}
	return minimum, nil
}

// CheckMinimum returns a *BelowMinimumError when amount is under the
// provider minimum.
func (i *Initiator) CheckMinimum(ctx context.Context, amount decimal.Decimal) error {
	minimum, err := i.MinAmount(ctx)
	if err != nil {
		return err
	}
	if amount.LessThan(minimum) {
		return &BelowMinimumError{Amount: amount, Minimum: minimum}
	}
	return nil
}

// Estimate returns the provider's expected payout for amount.
func (i *Initiator) Estimate(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return i.provider.Estimate(ctx, amount)
}

// Open creates the exchange order for the deposit and records it. Provider
// failures are returned as is and never retried.
func (i *Initiator) Open(ctx context.Context, depositSignature string, net decimal.Decimal, destination string) (*Order, error) {
	log := i.logger.With(zap.String("deposit", depositSignature))

	if _, err := i.ledger.Advance(ctx, depositSignature, ledger.StageExchangeOpening, ledger.Update{}); err != nil {
		return nil, fmt.Errorf("failed to start exchange: %w", err)
	}

	if err := i.CheckMinimum(ctx, net); err != nil {
		return nil, err
	}
	if err := i.checkRate(ctx, net); err != nil {
		return nil, err
	}

	order, err := i.provider.Open(ctx, OpenRequest{Amount: net, Destination: destination})
	if err != nil {
		return nil, err
	}
	log.Info("exchange opened",
		zap.String("order", order.ID),
		zap.String("payin", order.PayinAddress),
		zap.String("quoted", order.QuotedOutput.String()))

	if _, err := i.ledger.Advance(ctx, depositSignature, ledger.StageExchangeOpened, ledger.Update{
		ExchangeOrderID: order.ID,
		PayinAddress:    order.PayinAddress,
		QuotedOutput:    order.QuotedOutput.String(),
	}); err != nil {
		return order, fmt.Errorf("failed to record exchange: %w", err)
	}
	return order, nil
}

// checkRate compares the provider estimate with the reference price. A
// reference that cannot be fetched skips the check.
func (i *Initiator) checkRate(ctx context.Context, amount decimal.Decimal) error {
	if i.reference == nil || !i.cfg.MaxRateDeviation.IsPositive() {
		return nil
	}

	reference, err := i.reference.Expected(ctx, amount)
	if err != nil {
		i.logger.Warn("reference price unavailable, skipping rate check", zap.Error(err))
		return nil
	}
	estimate, err := i.provider.Estimate(ctx, amount)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			return err
		}
		i.logger.Warn("estimate unavailable, skipping rate check", zap.Error(err))
		return nil
	}
	return CheckDeviation(reference, estimate, i.cfg.MaxRateDeviation)
}

// Status returns the provider's current view of order id.
func (i *Initiator) Status(ctx context.Context, id string) (*OrderState, error) {
	return i.provider.Status(ctx, id)
}

// WaitStatus polls order id until it reaches a terminal status. On timeout
// it returns the last state seen together with poll.ErrTimeout.
func (i *Initiator) WaitStatus(ctx context.Context, id string) (*OrderState, error) {
	var last *OrderState
	err := poll.Until(ctx, i.cfg.StatusInterval, i.cfg.StatusTimeout, func(ctx context.Context) (bool, error) {
		state, err := i.provider.Status(ctx, id)
		if err != nil {
			i.logger.Debug("status check failed", zap.String("order", id), zap.Error(err))
			return false, nil
		}
		if last == nil || last.Status != state.Status {
			i.logger.Info("exchange status", zap.String("order", id), zap.String("status", string(state.Status)))
		}
		last = state
		return state.Status.Terminal(), nil
	})
	return last, err
}
