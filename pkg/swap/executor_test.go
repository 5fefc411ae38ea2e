package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"swapbot/pkg/chain"
	"swapbot/pkg/jupiter"
	"swapbot/pkg/ledger"
	"swapbot/pkg/types"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAggregator struct {
	mu        sync.Mutex
	user      solana.PublicKey
	quotes    int
	fees      []uint64
	quoteErrs []error
}

func (f *fakeAggregator) GetQuote(_ context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.quotes
	f.quotes++
	if n < len(f.quoteErrs) && f.quoteErrs[n] != nil {
		return nil, f.quoteErrs[n]
	}
	return &jupiter.Quote{InAmount: req.Amount, OutAmount: 1, Raw: []byte(fmt.Sprintf(`{"n":%d}`, n))}, nil
}

func (f *fakeAggregator) SwapTransaction(_ context.Context, req jupiter.SwapRequest) (*solana.Transaction, error) {
	f.mu.Lock()
	f.fees = append(f.fees, req.ComputeUnitPriceMicroLamports)
	f.mu.Unlock()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, req.User, solana.SystemProgramID).Build()},
		solana.Hash{3},
		solana.TransactionPayer(req.User),
	)
	if err != nil {
		return nil, err
	}
	tx.Signatures = []solana.Signature{{}}
	return tx, nil
}

// fakeChain confirms the sends whose index is listed in land.
type fakeChain struct {
	mu     sync.Mutex
	sent   []string
	land   map[int]chain.ConfirmationState
	signed []bool
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *solana.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, tx.VerifySignatures() == nil)
	sig := fmt.Sprintf("swap-%d", len(f.sent))
	f.sent = append(f.sent, sig)
	return sig, nil
}

func (f *fakeChain) TransactionStatus(_ context.Context, sig string) (chain.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sent {
		if s == sig {
			if state, ok := f.land[i]; ok {
				return chain.Confirmation{State: state, Slot: 10, Err: "custom"}, nil
			}
		}
	}
	return chain.Confirmation{State: chain.Pending}, nil
}

type fixture struct {
	agg      *fakeAggregator
	chain    *fakeChain
	ledger   *ledger.LocalStore
	executor *Executor
}

func newFixture(t *testing.T, land map[int]chain.ConfirmationState) *fixture {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w := chain.WalletFromKey(key)

	store := ledger.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &ledger.Record{
		Signature:      "dep",
		UserID:         1,
		Amount:         decimal.NewFromInt(1000),
		ExpectedAmount: decimal.NewFromInt(1000),
		Sufficient:     true,
		Stage:          ledger.StageDepositDetected,
	}))

	agg := &fakeAggregator{user: w.PublicKey()}
	fc := &fakeChain{land: land}
	exec := NewExecutor(agg, fc, store, w, Config{
		InputMint:        solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		OutputMint:       solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		InputDecimals:    6,
		BasePriorityFee:  50000,
		ComputeUnitLimit: 400000,
		QuoteSlippageBps: 100,
		SwapSlippageBps:  200,
		MaxAttempts:      3,
		ConfirmInterval:  time.Millisecond,
		ConfirmTimeout:   15 * time.Millisecond,
		RetryDelay:       time.Millisecond,
	}, zap.NewNop())

	return &fixture{agg: agg, chain: fc, ledger: store, executor: exec}
}

func TestPriorityFee(t *testing.T) {
	assert.Equal(t, uint64(50000), PriorityFee(50000, 0))
	assert.Equal(t, uint64(100000), PriorityFee(50000, 1))
	assert.Equal(t, uint64(200000), PriorityFee(50000, 2))
}

func TestExecuteFeeSwap_SucceedsOnSecondAttempt(t *testing.T) {
	f := newFixture(t, map[int]chain.ConfirmationState{1: chain.Succeeded})

	sig, err := f.executor.ExecuteFeeSwap(context.Background(), "dep", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.Equal(t, "swap-1", sig)

	assert.Equal(t, []uint64{50000, 100000}, f.agg.fees)
	assert.Equal(t, 2, f.agg.quotes, "every attempt requests a fresh quote")
	assert.Equal(t, []bool{true, true}, f.chain.signed)

	r, err := f.ledger.FindBySignature(context.Background(), "dep")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageFeeSwapped, r.Stage)
	assert.Equal(t, "swap-1", r.FeeSwapSignature)
	require.Len(t, r.SwapAttempts, 2)
	assert.Equal(t, "swap-0", r.SwapAttempts[0].Signature)
	assert.Contains(t, r.SwapAttempts[0].Error, "timed out")
	assert.Empty(t, r.SwapAttempts[1].Error)
}

func TestExecuteFeeSwap_AllAttemptsTimeOut(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.executor.ExecuteFeeSwap(context.Background(), "dep", decimal.NewFromInt(50))
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, "swap-2", failure.LastSignature)
	assert.ErrorIs(t, err, ErrConfirmTimeout)
	assert.Equal(t, types.KindTimeoutExhausted, types.KindOf(err))

	require.Len(t, f.agg.fees, 3)
	for i := 1; i < len(f.agg.fees); i++ {
		assert.Greater(t, f.agg.fees[i], f.agg.fees[i-1])
	}

	r, err := f.ledger.FindBySignature(context.Background(), "dep")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageFailed, r.Stage)
	assert.Len(t, r.SwapAttempts, 3)
	assert.NotEmpty(t, r.FailureReason)
}

func TestExecuteFeeSwap_RevertedAndQuoteErrorsCountAsAttempts(t *testing.T) {
	f := newFixture(t, map[int]chain.ConfirmationState{0: chain.Failed, 1: chain.Succeeded})
	f.agg.quoteErrs = []error{nil, errors.New("no route")}

	sig, err := f.executor.ExecuteFeeSwap(context.Background(), "dep", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.Equal(t, "swap-1", sig)

	// The quote of attempt 1 failed before anything was sent.
	assert.Equal(t, []uint64{50000, 200000}, f.agg.fees)

	r, err := f.ledger.FindBySignature(context.Background(), "dep")
	require.NoError(t, err)
	require.Len(t, r.SwapAttempts, 3)
	assert.Contains(t, r.SwapAttempts[0].Error, "failed on chain")
	assert.Contains(t, r.SwapAttempts[1].Error, "no route")
	assert.Equal(t, uint64(200000), r.SwapAttempts[2].PriorityFee)
}

func TestExecuteFeeSwap_TerminalRecord(t *testing.T) {
	f := newFixture(t, map[int]chain.ConfirmationState{0: chain.Succeeded})
	_, err := f.ledger.Advance(context.Background(), "dep", ledger.StageFailed, ledger.Update{})
	require.NoError(t, err)

	_, err = f.executor.ExecuteFeeSwap(context.Background(), "dep", decimal.NewFromInt(50))
	assert.ErrorIs(t, err, ledger.ErrTerminal)
	assert.Empty(t, f.chain.sent)
}

func TestExecuteFeeSwap_ZeroFee(t *testing.T) {
	f := newFixture(t, nil)

	sig, err := f.executor.ExecuteFeeSwap(context.Background(), "dep", decimal.Zero)
	require.NoError(t, err)
	assert.Empty(t, sig)
	assert.Zero(t, f.agg.quotes)

	r, err := f.ledger.FindBySignature(context.Background(), "dep")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageFeeSwapped, r.Stage)
}
