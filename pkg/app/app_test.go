package app

import (
	"context"
	"path/filepath"
	"testing"

	"swapbot/config"
	"swapbot/pkg/ledger"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("testdata", "swapbot.yaml"))
	require.NoError(t, err)

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	cfg.Solana.PrivateKey = key.String()
	return cfg
}

func TestOpen_LocalStack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.FilePath = filepath.Join(t.TempDir(), "ledger.json")

	a, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	store, ok := a.Ledger.(*ledger.LocalStore)
	require.True(t, ok)
	assert.Equal(t, cfg.Ledger.FilePath, store.GetFilePath())
	assert.Equal(t, "changenow", a.Exchange.ProviderName())
	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.Cache)

	require.NoError(t, a.Close(context.Background()))
}

func TestOpen_OneClick(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchange.Provider = "oneclick"
	cfg.Exchange.JWTToken = "jwt"

	a, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "oneclick", a.Exchange.ProviderName())
	require.NoError(t, a.Close(context.Background()))
}

func TestOpen_Rejects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Solana.PrivateKey = ""
	_, err := Open(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "intermediary key not found")

	cfg = testConfig(t)
	cfg.Solana.USDCMint = "not-a-mint"
	_, err = Open(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "solana.usdc_mint")

	cfg = testConfig(t)
	cfg.Redis.URL = "redis://127.0.0.1:6379/notadb"
	_, err = Open(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
