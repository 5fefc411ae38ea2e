package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"swapbot/pkg/chain"
	"swapbot/pkg/ledger"
	"swapbot/pkg/types"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

type fakeChain struct {
	mu      sync.Mutex
	sigs    []string
	txs     map[string]*chain.ParsedTransaction
	listErr error
	fetches map[string]int
}

func (f *fakeChain) RecentSignatures(context.Context, solana.PublicKey, int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.sigs...), nil
}

func (f *fakeChain) ParsedTransaction(_ context.Context, sig string) (*chain.ParsedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetches == nil {
		f.fetches = make(map[string]int)
	}
	f.fetches[sig]++
	return f.txs[sig], nil
}

func (f *fakeChain) add(sig string, tx *chain.ParsedTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txs == nil {
		f.txs = make(map[string]*chain.ParsedTransaction)
	}
	f.sigs = append([]string{sig}, f.sigs...)
	f.txs[sig] = tx
}

func transferTx(t *testing.T, source, dest solana.PublicKey, mint string, units uint64) *chain.ParsedTransaction {
	t.Helper()
	raw := fmt.Sprintf(`{
		"slot": 100,
		"meta": {"err": null},
		"transaction": {"message": {"instructions": [
			{"program": "spl-token", "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "parsed": {
				"type": "transferChecked",
				"info": {"source": %q, "destination": %q, "mint": %q, "authority": "x",
					"tokenAmount": {"amount": "%d", "decimals": 6}}
			}}
		]}}
	}`, source, dest, mint, units)

	var tx chain.ParsedTransaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	return &tx
}

type fixture struct {
	chain   *fakeChain
	ledger  *ledger.LocalStore
	watcher *Watcher
	exp     Expectation
	userATA solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	intermediary, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	user, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	fc := &fakeChain{}
	store := ledger.NewMemoryStore()
	require.NoError(t, store.RegisterUser(context.Background(), &ledger.User{
		ID:                 42,
		SourceAddress:      user.PublicKey().String(),
		DestinationAddress: "bc1qexample",
	}))

	w, err := NewWatcher(fc, store, Config{
		Mint:         usdcMint,
		Decimals:     6,
		Intermediary: intermediary.PublicKey(),
		PollInterval: 5 * time.Millisecond,
		Timeout:      60 * time.Millisecond,
		Retention:    time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)

	userATA, err := chain.TokenAccount(user.PublicKey(), usdcMint)
	require.NoError(t, err)

	return &fixture{
		chain:   fc,
		ledger:  store,
		watcher: w,
		userATA: userATA,
		exp: Expectation{
			UserID: 42,
			Owner:  user.PublicKey(),
			Amount: decimal.NewFromInt(1000),
		},
	}
}

func TestAwaitDeposit_Sufficient(t *testing.T) {
	f := newFixture(t)
	f.chain.add("dep1", transferTx(t, f.userATA, f.watcher.DepositAddress(), usdcMint.String(), 1_000_000_000))

	dep, err := f.watcher.AwaitDeposit(context.Background(), f.exp)
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, "dep1", dep.Signature)
	assert.True(t, dep.Amount.Equal(decimal.NewFromInt(1000)))

	r, err := f.ledger.FindBySignature(context.Background(), "dep1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageDepositDetected, r.Stage)
	assert.True(t, r.Sufficient)

	processed, err := f.ledger.IsProcessed(context.Background(), 42, "dep1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestScanOnce_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.chain.add("dep1", transferTx(t, f.userATA, f.watcher.DepositAddress(), usdcMint.String(), 1_000_000_000))

	dep, err := f.watcher.ScanOnce(context.Background(), f.exp)
	require.NoError(t, err)
	require.NotNil(t, dep)

	dep, err = f.watcher.ScanOnce(context.Background(), f.exp)
	require.NoError(t, err)
	assert.Nil(t, dep)

	records, err := f.ledger.FindByUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	user, err := f.ledger.GetUser(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, user.Processed, 1)
	assert.Equal(t, "dep1", user.Processed[0].Signature)
}

func TestScanOnce_ConcurrentScansClaimOnce(t *testing.T) {
	f := newFixture(t)
	f.chain.add("dep1", transferTx(t, f.userATA, f.watcher.DepositAddress(), usdcMint.String(), 1_000_000_000))

	var wg sync.WaitGroup
	found := make(chan *Deposit, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dep, err := f.watcher.ScanOnce(context.Background(), f.exp)
			assert.NoError(t, err)
			if dep != nil {
				found <- dep
			}
		}()
	}
	wg.Wait()
	close(found)

	assert.Len(t, found, 1)
	records, err := f.ledger.FindByUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	user, err := f.ledger.GetUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, user.Processed, 1)
}

func TestAwaitDeposit_InsufficientTimesOut(t *testing.T) {
	f := newFixture(t)
	f.chain.add("small", transferTx(t, f.userATA, f.watcher.DepositAddress(), usdcMint.String(), 10_000_000))

	_, err := f.watcher.AwaitDeposit(context.Background(), f.exp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, types.KindTimeoutExhausted, types.KindOf(err))

	r, err := f.ledger.FindBySignature(context.Background(), "small")
	require.NoError(t, err)
	assert.False(t, r.Sufficient)
	assert.Equal(t, ledger.StageFailed, r.Stage)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(10)))
}

func TestAwaitDeposit_IgnoresForeignTransfers(t *testing.T) {
	f := newFixture(t)

	stranger, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	strangerATA, err := chain.TokenAccount(stranger.PublicKey(), usdcMint)
	require.NoError(t, err)

	f.chain.add("foreign", transferTx(t, strangerATA, f.watcher.DepositAddress(), usdcMint.String(), 1_000_000_000))
	f.chain.add("wrongmint", transferTx(t, f.userATA, f.watcher.DepositAddress(), "So11111111111111111111111111111111111111112", 1_000_000_000))

	_, err = f.watcher.AwaitDeposit(context.Background(), f.exp)
	assert.ErrorIs(t, err, ErrTimedOut)

	_, err = f.ledger.FindBySignature(context.Background(), "foreign")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Non-matching transactions are fetched once per run.
	assert.Equal(t, 1, f.chain.fetches["foreign"])
	assert.Equal(t, 1, f.chain.fetches["wrongmint"])
}

func TestAwaitDeposit_RPCErrorsAreRetried(t *testing.T) {
	f := newFixture(t)
	f.chain.listErr = errors.New("node unavailable")
	tx := transferTx(t, f.userATA, f.watcher.DepositAddress(), usdcMint.String(), 2_000_000_000)

	go func() {
		time.Sleep(15 * time.Millisecond)
		f.chain.mu.Lock()
		f.chain.listErr = nil
		f.chain.mu.Unlock()
		f.chain.add("dep1", tx)
	}()

	dep, err := f.watcher.AwaitDeposit(context.Background(), f.exp)
	require.NoError(t, err)
	assert.Equal(t, "dep1", dep.Signature)
}

func TestAwaitDeposit_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.watcher.AwaitDeposit(ctx, f.exp)
	assert.ErrorIs(t, err, context.Canceled)
}
