package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swapbot/pkg/bundle"
	"swapbot/pkg/exchange"
	"swapbot/pkg/ledger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultHistoryLimit is the number of records History returns by default.
const DefaultHistoryLimit = 5

// StatusReport combines the ledger view of a deposit with the provider's
// view of its exchange. Either part may be missing.
type StatusReport struct {
	Record *ledger.Record       `json:"record,omitempty"`
	Order  *exchange.OrderState `json:"order,omitempty"`
}

// Status looks id up as a deposit signature, then as an exchange order id,
// and finally asks the provider directly.
func (o *Orchestrator) Status(ctx context.Context, id string) (*StatusReport, error) {
	report := &StatusReport{}

	record, err := o.deps.Ledger.FindBySignature(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		record, err = o.deps.Ledger.FindByOrderID(ctx, id)
	}
	switch {
	case err == nil:
		report.Record = record
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}

	orderID := id
	if report.Record != nil {
		orderID = report.Record.ExchangeOrderID
	}
	if orderID != "" {
		state, err := o.deps.Exchange.Status(ctx, orderID)
		if err != nil {
			if report.Record == nil {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			o.logger.Warn("provider status unavailable", zap.String("order", orderID), zap.Error(err))
		} else {
			report.Order = state
		}
	}

	if report.Record == nil && report.Order == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return report, nil
}

// GetStatus renders Status for display.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (string, error) {
	report, err := o.Status(ctx, id)
	if err != nil {
		return "", err
	}
	return report.String(), nil
}

func (r *StatusReport) String() string {
	var parts []string
	if r.Record != nil {
		parts = append(parts, RenderRecord(r.Record))
	}
	if r.Order != nil {
		parts = append(parts, RenderOrderState(r.Order))
	}
	return strings.Join(parts, "\n\n")
}

// RenderRecord formats a ledger record.
func RenderRecord(r *ledger.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deposit: %s\n", r.Signature)
	fmt.Fprintf(&b, "Stage: %s\n", r.Stage)
	fmt.Fprintf(&b, "Amount: %s USDC\n", r.Amount)
	fmt.Fprintf(&b, "Created: %s\n", r.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if r.FeeSwapSignature != "" {
		fmt.Fprintf(&b, "Fee Swap: %s\n", r.FeeSwapSignature)
	}
	if n := len(r.SwapAttempts); n > 0 {
		fmt.Fprintf(&b, "Swap Attempts: %d\n", n)
	}
	if r.ExchangeOrderID != "" {
		fmt.Fprintf(&b, "Exchange Order: %s\n", r.ExchangeOrderID)
	}
	if r.QuotedOutput != "" {
		fmt.Fprintf(&b, "Quoted Output: %s BTC\n", r.QuotedOutput)
	}
	if r.BundleID != "" {
		fmt.Fprintf(&b, "Bundle: %s (%s)\n", r.BundleID, r.BundleStatus)
	}
	if r.LandedSlot != nil {
		fmt.Fprintf(&b, "Landed Slot: %d\n", *r.LandedSlot)
	}
	if r.Stage == ledger.StageBundling && r.BundleStatus == string(bundle.StatusPending) {
		b.WriteString("Bundle outcome unknown, recheck later\n")
	}
	if r.FailureReason != "" {
		fmt.Fprintf(&b, "Failure: %s\n", r.FailureReason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderOrderState formats a provider status snapshot.
func RenderOrderState(s *exchange.OrderState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exchange Status %s\n\n", s.Status.Marker())
	fmt.Fprintf(&b, "ID: %s\n", s.ID)
	fmt.Fprintf(&b, "Status: %s\n\n", strings.ToUpper(string(s.Status)))
	fmt.Fprintf(&b, "Amount Sent: %s %s (%s)\n", formatAmount(s.AmountFrom), strings.ToUpper(s.FromCurrency), strings.ToUpper(s.FromNetwork))
	fmt.Fprintf(&b, "Amount to Receive: %s %s\n", formatAmount(s.AmountTo), strings.ToUpper(s.ToCurrency))
	if !s.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\nCreated: %s\n", formatTime(s.CreatedAt))
	}
	if !s.DepositReceivedAt.IsZero() {
		fmt.Fprintf(&b, "Deposit Received: %s\n", formatTime(s.DepositReceivedAt))
	}

	switch {
	case s.PayoutHash != "":
		fmt.Fprintf(&b, "\nPayout Transaction:\n%s\n", s.PayoutHash)
	case s.PayinHash != "":
		fmt.Fprintf(&b, "\nDeposit Transaction:\n%s\n", s.PayinHash)
	}
	if s.PayoutAddress != "" {
		fmt.Fprintf(&b, "\nPayout Address:\n%s\n", s.PayoutAddress)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return "-"
	}
	return d.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// Recheck queries the relay once for a record whose bundle outcome was
// still unknown and records the answer.
func (o *Orchestrator) Recheck(ctx context.Context, signature string) (*ledger.Record, error) {
	record, err := o.deps.Ledger.FindBySignature(ctx, signature)
	if err != nil {
		return nil, err
	}
	if record.Stage != ledger.StageBundling || record.BundleID == "" {
		return record, fmt.Errorf("%w: %s is %s", ErrNothingToRecheck, signature, record.Stage)
	}

	res, err := o.deps.Bundles.Status(ctx, record.BundleID)
	if err != nil {
		return record, classify("bundle.recheck", err)
	}
	o.logger.Info("bundle rechecked",
		zap.String("deposit", signature),
		zap.String("bundle", record.BundleID),
		zap.String("status", string(res.Status)))

	return o.applyBundle(ctx, signature, res)
}

// History returns the user's most recent records, newest first.
func (o *Orchestrator) History(ctx context.Context, userID int64, limit int) ([]*ledger.Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records, err := o.deps.Ledger.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Limits describes the amounts a swap accepts.
type Limits struct {
	Provider  string          `json:"provider"`
	FeeRate   decimal.Decimal `json:"fee_rate"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	// MinGross is the smallest deposit whose net clears MinAmount.
	MinGross decimal.Decimal `json:"min_gross"`
}

// Limits returns the current swap limits.
func (o *Orchestrator) Limits(ctx context.Context) (*Limits, error) {
	minimum, err := o.deps.Exchange.MinAmount(ctx)
	if err != nil {
		return nil, classify("exchange.minimum", err)
	}
	minGross := minimum
	if keep := decimal.NewFromInt(1).Sub(o.cfg.FeeRate); keep.IsPositive() {
		minGross = minimum.Div(keep).RoundUp(6)
	}
	return &Limits{
		Provider:  o.deps.Exchange.ProviderName(),
		FeeRate:   o.cfg.FeeRate,
		MinAmount: minimum,
		MaxAmount: o.cfg.MaxAmount,
		MinGross:  minGross,
	}, nil
}

// Preview estimates the payout for a gross deposit.
func (o *Orchestrator) Preview(ctx context.Context, gross decimal.Decimal) (net, estimate decimal.Decimal, err error) {
	fee := gross.Mul(o.cfg.FeeRate)
	net = gross.Sub(fee)
	estimate, err = o.deps.Exchange.Estimate(ctx, net)
	if err != nil {
		return net, decimal.Zero, classify("exchange.estimate", err)
	}
	return net, estimate, nil
}
