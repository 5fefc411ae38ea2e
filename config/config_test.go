package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Deposit.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Deposit.Timeout)
	assert.Equal(t, uint64(50000), cfg.Swap.BasePriorityFee)
	assert.Equal(t, uint32(400000), cfg.Swap.ComputeUnitLimit)
	assert.Equal(t, 3, cfg.Swap.MaxAttempts)
	assert.Equal(t, "0.05", cfg.Swap.FeeRate.String())
	assert.Equal(t, uint8(6), cfg.Solana.USDCDecimals)
	assert.Equal(t, 30, cfg.Bundle.MaxPolls)
	assert.Equal(t, "changenow", cfg.Exchange.Provider)
	assert.Equal(t, "1000000", cfg.Swap.MaxAmount.String())
	assert.Equal(t, 5, cfg.Exchange.RequestsPerMinute)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoad_EnvAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swapbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("swap:\n  max_attempts: 5\nexchange:\n  provider: oneclick\n"), 0o600))

	t.Setenv("SWAPBOT_SOLANA_PRIVATE_KEY", "key")
	t.Setenv("SWAPBOT_DEPOSIT_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Swap.MaxAttempts)
	assert.Equal(t, "oneclick", cfg.Exchange.Provider)
	assert.Equal(t, "key", cfg.Solana.PrivateKey)
	assert.Equal(t, 90*time.Second, cfg.Deposit.Timeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWAPBOT_SOLANA_PRIVATE_KEY")
	assert.Contains(t, err.Error(), "exchange.api_key")

	cfg.Solana.PrivateKey = "key"
	cfg.Exchange.APIKey = "api"
	assert.NoError(t, cfg.Validate())

	cfg.Bundle.TipLamports = 999
	assert.Error(t, cfg.Validate())
}

func TestValidate_Durations(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero deposit interval", func(c *Config) { c.Deposit.PollInterval = 0 }, "deposit.poll_interval"},
		{"negative confirm interval", func(c *Config) { c.Swap.ConfirmInterval = -time.Second }, "swap.confirm_interval"},
		{"zero status interval", func(c *Config) { c.Exchange.StatusInterval = 0 }, "exchange.status_interval"},
		{"zero bundle interval", func(c *Config) { c.Bundle.PollInterval = 0 }, "bundle.poll_interval"},
		{"zero deposit timeout", func(c *Config) { c.Deposit.Timeout = 0 }, "deposit.timeout"},
		{"zero status timeout", func(c *Config) { c.Exchange.StatusTimeout = 0 }, "exchange.status_timeout"},
		{"zero handle retention", func(c *Config) { c.Swap.HandleRetention = 0 }, "swap.handle_retention"},
		{"retention within timeout", func(c *Config) { c.Deposit.Retention = c.Deposit.Timeout }, "deposit.retention"},
		{"no bundle polls", func(c *Config) { c.Bundle.MaxPolls = 0 }, "bundle.max_polls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			cfg.Solana.PrivateKey = "key"
			cfg.Exchange.APIKey = "api"
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ZeroIntervalFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SWAPBOT_SOLANA_PRIVATE_KEY", "key")
	t.Setenv("SWAPBOT_EXCHANGE_API_KEY", "api")
	t.Setenv("SWAPBOT_DEPOSIT_POLL_INTERVAL", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Deposit.PollInterval)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deposit.poll_interval must be positive")
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
