package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"swapbot/pkg/bundle"
	"swapbot/pkg/deposit"
	"swapbot/pkg/exchange"
	"swapbot/pkg/ledger"
	"swapbot/pkg/types"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DepositWatcher waits for the user's deposit.
type DepositWatcher interface {
	DepositAddress() solana.PublicKey
	AwaitDeposit(ctx context.Context, exp deposit.Expectation) (*deposit.Deposit, error)
}

// FeeSwapper converts the service fee.
type FeeSwapper interface {
	ExecuteFeeSwap(ctx context.Context, depositSignature string, fee decimal.Decimal) (string, error)
}

// Exchange opens and tracks cross-chain orders.
type Exchange interface {
	ProviderName() string
	MinAmount(ctx context.Context) (decimal.Decimal, error)
	CheckMinimum(ctx context.Context, amount decimal.Decimal) error
	Estimate(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	Open(ctx context.Context, depositSignature string, net decimal.Decimal, destination string) (*exchange.Order, error)
	Status(ctx context.Context, id string) (*exchange.OrderState, error)
}

// BundleSubmitter sends tipped bundles.
type BundleSubmitter interface {
	Submit(ctx context.Context, txs []*solana.Transaction, tip uint64) (*bundle.Result, error)
	Status(ctx context.Context, id string) (*bundle.Result, error)
}

// DefaultHandleRetention is how long a finished Handle stays reachable when
// Config.HandleRetention is zero.
const DefaultHandleRetention = time.Hour

type Config struct {
	FeeRate     decimal.Decimal
	MaxAmount   decimal.Decimal
	TipLamports uint64
	// Decimals is the deposit token's precision; the fee is rounded to it.
	Decimals uint8
	// HandleRetention bounds how long a finished Handle is kept. The ledger
	// still answers Status for the deposit afterwards.
	HandleRetention time.Duration
}

// Deps are the components a workflow drives.
type Deps struct {
	Ledger    ledger.Ledger
	Watcher   DepositWatcher
	Swapper   FeeSwapper
	Exchange  Exchange
	Bundles   BundleSubmitter
	Transfers TransferBuilder
	Notifier  Notifier
}

// Outcome is the final report of one workflow.
type Outcome struct {
	Request          *types.SwapRequest
	DepositSignature string
	Stage            ledger.Stage
	FeeSwapSignature string
	Order            *exchange.Order
	Bundle           *bundle.Result
	Err              error
}

// Indeterminate reports whether the bundle outcome is still unknown.
func (o *Outcome) Indeterminate() bool {
	return o.Err == nil && o.Stage == ledger.StageBundling
}

// Handle tracks a workflow started by InitiateSwap.
type Handle struct {
	ID      string
	Request *types.SwapRequest

	done    chan struct{}
	outcome *Outcome
}

// Done is closed when the workflow finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the workflow finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Orchestrator drives deposits through the swap pipeline.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*Handle
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{Logger: logger}
	}
	if cfg.HandleRetention <= 0 {
		cfg.HandleRetention = DefaultHandleRetention
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		base:    base,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
}

// RegisterUser creates or updates the user's addresses.
func (o *Orchestrator) RegisterUser(ctx context.Context, userID int64, source, destination string) (*ledger.User, error) {
	if _, err := solana.PublicKeyFromBase58(source); err != nil {
		return nil, fmt.Errorf("%w: invalid source wallet address: %v", ErrInvalidRequest, err)
	}
	if destination == "" {
		return nil, fmt.Errorf("%w: destination address is required", ErrInvalidRequest)
	}
	if err := o.deps.Ledger.RegisterUser(ctx, &ledger.User{
		ID:                 userID,
		SourceAddress:      source,
		DestinationAddress: destination,
	}); err != nil {
		return nil, err
	}
	return o.deps.Ledger.GetUser(ctx, userID)
}

// Prepare validates a swap for userID without starting it. Amounts above
// the configured maximum and net amounts below the provider minimum are
// rejected here so the user never deposits for a swap that cannot open.
func (o *Orchestrator) Prepare(ctx context.Context, userID int64, gross decimal.Decimal) (*types.SwapRequest, error) {
	user, err := o.deps.Ledger.GetUser(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	if err != nil {
		return nil, err
	}

	if o.cfg.MaxAmount.IsPositive() && gross.GreaterThan(o.cfg.MaxAmount) {
		return nil, fmt.Errorf("%w of %s USDC", ErrAmountTooLarge, o.cfg.MaxAmount)
	}
	req, err := types.NewSwapRequest(userID, gross, o.cfg.FeeRate, o.cfg.Decimals, user.SourceAddress, user.DestinationAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := o.deps.Exchange.CheckMinimum(ctx, req.Net); err != nil {
		return nil, classify("exchange.minimum", err)
	}
	return req, nil
}

// InitiateSwap validates the swap and runs its workflow in the background.
func (o *Orchestrator) InitiateSwap(ctx context.Context, userID int64, gross decimal.Decimal) (*Handle, error) {
	req, err := o.Prepare(ctx, userID, gross)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		ID:      uuid.NewString(),
		Request: req,
		done:    make(chan struct{}),
	}
	o.mu.Lock()
	o.handles[h.ID] = h
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer time.AfterFunc(o.cfg.HandleRetention, func() { o.forget(h.ID) })
		defer close(h.done)
		h.outcome = o.Run(o.base, req)
	}()

	o.logger.Info("swap initiated",
		zap.String("handle", h.ID),
		zap.Int64("user", userID),
		zap.String("gross", req.Gross.String()))
	return h, nil
}

// Handle returns a workflow started by InitiateSwap.
func (o *Orchestrator) Handle(id string) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[id]
	return h, ok
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.handles, id)
	o.mu.Unlock()
}

// Close cancels running workflows and waits for them to return. Progress
// already recorded in the ledger stays valid.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// Run executes the workflow for req synchronously.
func (o *Orchestrator) Run(ctx context.Context, req *types.SwapRequest) *Outcome {
	out := &Outcome{Request: req, Stage: ledger.StageAwaitingDeposit}
	log := o.logger.With(zap.Int64("user", req.UserID))
	notify := func(format string, args ...interface{}) {
		o.deps.Notifier.Notify(ctx, req.UserID, fmt.Sprintf(format, args...))
	}

	owner, err := solana.PublicKeyFromBase58(req.SourceAddress)
	if err != nil {
		out.Err = types.NewError(types.KindProviderRejected, "deposit.await", "the registered source wallet is not a valid Solana address", err)
		out.Stage = ledger.StageFailed
		return out
	}

	notify("Send %s USDC from %s to %s. Fee: %s USDC (%s%%), %s USDC will be exchanged to BTC.",
		req.Gross, req.SourceAddress, o.deps.Watcher.DepositAddress(), req.Fee, req.FeePercent(), req.Net)

	dep, err := o.deps.Watcher.AwaitDeposit(ctx, deposit.Expectation{
		UserID: req.UserID,
		Owner:  owner,
		Amount: req.Gross,
	})
	if err != nil {
		out.Err = classify("deposit.await", err)
		out.Stage = ledger.StageFailed
		notify("Swap stopped: %s", types.UserMessage(out.Err))
		return out
	}
	out.DepositSignature = dep.Signature
	out.Stage = ledger.StageDepositDetected
	log = log.With(zap.String("deposit", dep.Signature))
	notify("Deposit of %s USDC detected: %s", dep.Amount, dep.Signature)

	feeSig, err := o.deps.Swapper.ExecuteFeeSwap(ctx, dep.Signature, req.Fee)
	if err != nil {
		return o.fail(ctx, out, "swap.fee", err, notify)
	}
	out.FeeSwapSignature = feeSig
	out.Stage = ledger.StageFeeSwapped
	if feeSig != "" {
		notify("Fee swap confirmed: %s", feeSig)
	}

	order, err := o.deps.Exchange.Open(ctx, dep.Signature, req.Net, req.DestinationAddress)
	if err != nil {
		return o.fail(ctx, out, "exchange.open", err, notify)
	}
	out.Order = order
	out.Stage = ledger.StageExchangeOpened
	notify("Exchange %s opened, expected payout %s BTC to %s", order.ID, order.QuotedOutput, req.DestinationAddress)

	txs, err := o.deps.Transfers.Build(ctx, order.PayinAddress, req.Net)
	if err != nil {
		return o.fail(ctx, out, "bundle.build", err, notify)
	}
	sigs := make([]string, 0, len(txs))
	for _, tx := range txs {
		if len(tx.Signatures) > 0 {
			sigs = append(sigs, tx.Signatures[0].String())
		}
	}
	if _, err := o.deps.Ledger.Advance(ctx, dep.Signature, ledger.StageBundling, ledger.Update{TransferSignatures: sigs}); err != nil {
		return o.fail(ctx, out, "bundle.submit", err, notify)
	}
	out.Stage = ledger.StageBundling

	res, err := o.deps.Bundles.Submit(ctx, txs, o.cfg.TipLamports)
	if err != nil {
		return o.fail(ctx, out, "bundle.submit", err, notify)
	}
	out.Bundle = res

	record, err := o.applyBundle(ctx, dep.Signature, res)
	if err != nil {
		log.Error("failed to record bundle outcome", zap.String("bundle", res.BundleID), zap.Error(err))
		out.Err = classify("bundle.record", err)
		return out
	}
	out.Stage = record.Stage

	switch res.Status {
	case bundle.StatusLanded:
		notify("Bundle %s landed in slot %d. Track the exchange with: status %s", res.BundleID, *res.Slot, order.ID)
	case bundle.StatusPending:
		notify("Bundle %s is still pending. Its outcome is unknown; check again later with: recheck %s", res.BundleID, dep.Signature)
	default:
		out.Err = types.NewError(types.KindTransient, "bundle.submit",
			fmt.Sprintf("the transfer bundle %s was %s; your deposit is recorded and can be reviewed with its signature", res.BundleID, res.Status), nil)
		notify("Swap stopped: %s", types.UserMessage(out.Err))
	}
	return out
}

// applyBundle records a bundle result on the deposit's record.
func (o *Orchestrator) applyBundle(ctx context.Context, signature string, res *bundle.Result) (*ledger.Record, error) {
	update := ledger.Update{BundleID: res.BundleID, BundleStatus: string(res.Status)}

	switch res.Status {
	case bundle.StatusLanded:
		update.LandedSlot = res.Slot
		return o.deps.Ledger.Advance(ctx, signature, ledger.StageLanded, update)
	case bundle.StatusPending:
		return o.deps.Ledger.Advance(ctx, signature, ledger.StageBundling, update)
	default:
		update.FailureReason = fmt.Sprintf("bundle %s", res.Status)
		return o.deps.Ledger.Advance(ctx, signature, ledger.StageFailed, update)
	}
}

// fail marks the record failed and reports the classified error.
func (o *Orchestrator) fail(ctx context.Context, out *Outcome, op string, err error, notify func(string, ...interface{})) *Outcome {
	out.Err = classify(op, err)
	out.Stage = ledger.StageFailed

	if _, advErr := o.deps.Ledger.Advance(ctx, out.DepositSignature, ledger.StageFailed, ledger.Update{
		FailureReason: err.Error(),
	}); advErr != nil && !errors.Is(advErr, ledger.ErrTerminal) {
		o.logger.Error("failed to mark deposit failed", zap.String("deposit", out.DepositSignature), zap.Error(advErr))
	}

	o.logger.Warn("swap failed",
		zap.String("deposit", out.DepositSignature),
		zap.String("op", op),
		zap.String("kind", string(types.KindOf(out.Err))),
		zap.Error(err))
	notify("Swap stopped: %s", types.UserMessage(out.Err))
	return out
}
