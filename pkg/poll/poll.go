// Package poll provides the cooperative wait used by every polling site:
// deposit scans, swap confirmations, bundle statuses and provider statuses.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by Until when the wall-clock budget runs out before
// the check reports done.
var ErrTimeout = errors.New("poll: timed out")

// ErrInterval is returned by Until for a non-positive interval.
var ErrInterval = errors.New("poll: interval must be positive")

// CheckFunc reports whether polling is finished. A non-nil error stops
// polling and is returned by Until as is.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Until runs check immediately and then every interval until it reports done,
// returns an error, ctx is cancelled or timeout elapses. A zero timeout means
// no budget besides ctx.
func Until(ctx context.Context, interval, timeout time.Duration, check CheckFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInterval, interval)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctxErr(ctx)
		case <-ticker.C:
		}
	}
}

// Attempts runs check up to n times, waiting interval between runs. It
// returns ErrTimeout when all attempts were used without check reporting done.
func Attempts(ctx context.Context, interval time.Duration, n int, check CheckFunc) error {
	for i := 0; i < n; i++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == n-1 {
			break
		}
		if err := Sleep(ctx, interval); err != nil {
			return err
		}
	}
	return ErrTimeout
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
