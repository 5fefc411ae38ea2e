package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the provider-independent state of an exchange order.
type OrderStatus string

const (
	StatusNew        OrderStatus = "new"
	StatusWaiting    OrderStatus = "waiting"
	StatusConfirming OrderStatus = "confirming"
	StatusExchanging OrderStatus = "exchanging"
	StatusSending    OrderStatus = "sending"
	StatusFinished   OrderStatus = "finished"
	StatusFailed     OrderStatus = "failed"
	StatusRefunded   OrderStatus = "refunded"
	StatusExpired    OrderStatus = "expired"
	StatusUnknown    OrderStatus = "unknown"
)

var statusMarkers = map[OrderStatus]string{
	StatusNew:        "🆕",
	StatusWaiting:    "⏳",
	StatusConfirming: "🔄",
	StatusExchanging: "💱",
	StatusSending:    "📤",
	StatusFinished:   "✅",
	StatusFailed:     "❌",
	StatusRefunded:   "↩️",
	StatusExpired:    "⌛",
	StatusUnknown:    "❓",
}

// ParseStatus maps a provider status string onto OrderStatus.
func ParseStatus(s string) OrderStatus {
	status := OrderStatus(s)
	if _, ok := statusMarkers[status]; ok {
		return status
	}
	return StatusUnknown
}

// Terminal reports whether the provider will not move the order any further.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// Marker returns the emoji shown next to the status.
func (s OrderStatus) Marker() string {
	if m, ok := statusMarkers[s]; ok {
		return m
	}
	return statusMarkers[StatusUnknown]
}

// OpenRequest asks the provider to exchange Amount of the source asset and
// pay out to Destination.
type OpenRequest struct {
	Amount      decimal.Decimal
	Destination string
}

// Order is an opened exchange. PayinAddress receives the principal.
type Order struct {
	ID           string
	Provider     string
	PayinAddress string
	QuotedOutput decimal.Decimal
}

// OrderState is a provider status snapshot.
type OrderState struct {
	ID                string
	Status            OrderStatus
	AmountFrom        decimal.Decimal
	AmountTo          decimal.Decimal
	FromCurrency      string
	ToCurrency        string
	FromNetwork       string
	CreatedAt         time.Time
	DepositReceivedAt time.Time
	UpdatedAt         time.Time
	PayinHash         string
	PayoutHash        string
	PayoutAddress     string
}

// Provider is a cross-chain exchange service.
type Provider interface {
	Name() string
	// MinAmount returns the smallest source amount the provider accepts.
	// Zero means no minimum.
	MinAmount(ctx context.Context) (decimal.Decimal, error)
	// Estimate returns the expected payout for amount.
	Estimate(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	Open(ctx context.Context, req OpenRequest) (*Order, error)
	Status(ctx context.Context, id string) (*OrderState, error)
}

// ErrRateDeviation is returned when the provider estimate strays too far
// from the reference price.
var ErrRateDeviation = errors.New("exchange rate deviates from reference price")

// BelowMinimumError is returned when the amount is under the provider minimum.
type BelowMinimumError struct {
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("amount %s is below the exchange minimum of %s", e.Amount, e.Minimum)
}

// ProviderError carries a provider rejection verbatim.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error (status %d): %s: %s", e.Provider, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
}
