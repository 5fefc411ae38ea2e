package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"swapbot/pkg/bundle"
	"swapbot/pkg/exchange"
	"swapbot/pkg/ledger"
	"swapbot/pkg/poll"
	"swapbot/pkg/types"
)

var (
	ErrUnknownUser      = errors.New("user is not registered")
	ErrAmountTooLarge   = errors.New("amount exceeds the maximum swap amount")
	ErrNotFound         = errors.New("no transaction or exchange found")
	ErrNothingToRecheck = errors.New("transaction has no pending bundle")
	ErrInvalidRequest   = errors.New("invalid request")
)

// classify turns a stage error into a *types.Error carrying a message the
// user can act on.
func classify(op string, err error) error {
	var classified *types.Error
	if errors.As(err, &classified) {
		return err
	}

	var below *exchange.BelowMinimumError
	var perr *exchange.ProviderError
	switch {
	case errors.As(err, &below):
		msg := fmt.Sprintf("the amount after fees (%s USDC) is below the exchange minimum of %s USDC", below.Amount, below.Minimum)
		return types.NewError(types.KindProviderRejected, op, msg, err)
	case errors.As(err, &perr):
		return types.NewError(types.KindProviderRejected, op, "the exchange rejected the order: "+perr.Message, err)
	case errors.Is(err, exchange.ErrRateDeviation):
		return types.NewError(types.KindProviderRejected, op, "the exchange rate moved too far from the market price, please try again later", err)
	case errors.Is(err, ledger.ErrDuplicateKey):
		return types.NewError(types.KindInvariantViolation, op, "this deposit is already being processed", err)
	case errors.Is(err, poll.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.KindTimeoutExhausted, op, "the operation timed out; your deposit is recorded and can be reviewed with its signature", err)
	case errors.Is(err, bundle.ErrBundleSize), errors.Is(err, bundle.ErrTipTooLow):
		return types.NewError(types.KindInvariantViolation, op, "the transfer bundle was rejected before submission", err)
	}
	return types.NewError(types.KindTransient, op, "a network error interrupted the swap; your deposit is recorded and can be reviewed with its signature", err)
}
