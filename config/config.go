package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Log      LogConfig
	Solana   SolanaConfig
	Deposit  DepositConfig
	Swap     SwapConfig
	Jupiter  JupiterConfig
	Exchange ExchangeConfig
	Bundle   BundleConfig
	Ledger   LedgerConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Server   ServerConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// SolanaConfig describes the RPC endpoint and the intermediary wallet that
// receives deposits and pays for the fee swap and the bundle.
type SolanaConfig struct {
	RPCURL        string
	Commitment    string
	SkipPreflight bool
	PrivateKey    string
	USDCMint      string
	USDCDecimals  uint8
	FeeTokenMint  string
}

type DepositConfig struct {
	PollInterval   time.Duration
	Timeout        time.Duration
	SignatureLimit int
	Retention      time.Duration
}

type SwapConfig struct {
	FeeRate          decimal.Decimal
	MaxAmount        decimal.Decimal
	BasePriorityFee  uint64
	ComputeUnitLimit uint32
	QuoteSlippageBps int
	SwapSlippageBps  int
	MaxAttempts      int
	ConfirmInterval  time.Duration
	ConfirmTimeout   time.Duration
	RetryDelay       time.Duration
	HandleRetention  time.Duration
}

type JupiterConfig struct {
	BaseURL string
}

// ExchangeConfig selects the cross-chain provider. Provider is "changenow"
// or "oneclick".
type ExchangeConfig struct {
	Provider         string
	APIKey           string
	BaseURL          string
	JWTToken         string
	OneClickURL      string
	MinAmountTTL      time.Duration
	MaxRateDeviation  decimal.Decimal
	StatusInterval    time.Duration
	StatusTimeout     time.Duration
	RequestsPerMinute int
	ReferenceURL      string
}

type BundleConfig struct {
	BlockEngineURL string
	TipLamports    uint64
	PollInterval   time.Duration
	MaxPolls       int
}

// LedgerConfig points the file store at FilePath when no Mongo URI is set.
// An empty FilePath keeps records in memory only.
type LedgerConfig struct {
	FilePath string
}

// MongoConfig with an empty URI selects the local ledger.
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig with an empty URL selects the in-memory cache.
type RedisConfig struct {
	URL string
}

type ServerConfig struct {
	Addr string
}

// Load reads configuration from environment variables and an optional
// config file. path may be empty to search the default locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".swapbot")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SWAPBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	feeRate, err := decimal.NewFromString(v.GetString("swap.fee_rate"))
	if err != nil {
		return nil, fmt.Errorf("invalid swap.fee_rate: %w", err)
	}
	maxAmount, err := decimal.NewFromString(v.GetString("swap.max_amount"))
	if err != nil {
		return nil, fmt.Errorf("invalid swap.max_amount: %w", err)
	}
	deviation, err := decimal.NewFromString(v.GetString("exchange.max_rate_deviation"))
	if err != nil {
		return nil, fmt.Errorf("invalid exchange.max_rate_deviation: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Solana: SolanaConfig{
			RPCURL:        v.GetString("solana.rpc_url"),
			Commitment:    v.GetString("solana.commitment"),
			SkipPreflight: v.GetBool("solana.skip_preflight"),
			PrivateKey:    v.GetString("solana.private_key"),
			USDCMint:      v.GetString("solana.usdc_mint"),
			USDCDecimals:  uint8(v.GetUint("solana.usdc_decimals")),
			FeeTokenMint:  v.GetString("solana.fee_token_mint"),
		},
		Deposit: DepositConfig{
			PollInterval:   v.GetDuration("deposit.poll_interval"),
			Timeout:        v.GetDuration("deposit.timeout"),
			SignatureLimit: v.GetInt("deposit.signature_limit"),
			Retention:      v.GetDuration("deposit.retention"),
		},
		Swap: SwapConfig{
			FeeRate:          feeRate,
			MaxAmount:        maxAmount,
			BasePriorityFee:  v.GetUint64("swap.base_priority_fee"),
			ComputeUnitLimit: v.GetUint32("swap.compute_unit_limit"),
			QuoteSlippageBps: v.GetInt("swap.quote_slippage_bps"),
			SwapSlippageBps:  v.GetInt("swap.swap_slippage_bps"),
			MaxAttempts:      v.GetInt("swap.max_attempts"),
			ConfirmInterval:  v.GetDuration("swap.confirm_interval"),
			ConfirmTimeout:   v.GetDuration("swap.confirm_timeout"),
			RetryDelay:       v.GetDuration("swap.retry_delay"),
			HandleRetention:  v.GetDuration("swap.handle_retention"),
		},
		Jupiter: JupiterConfig{
			BaseURL: v.GetString("jupiter.base_url"),
		},
		Exchange: ExchangeConfig{
			Provider:         strings.ToLower(v.GetString("exchange.provider")),
			APIKey:           v.GetString("exchange.api_key"),
			BaseURL:          v.GetString("exchange.base_url"),
			JWTToken:         v.GetString("exchange.jwt_token"),
			OneClickURL:      v.GetString("exchange.oneclick_url"),
			MinAmountTTL:      v.GetDuration("exchange.min_amount_ttl"),
			MaxRateDeviation:  deviation,
			StatusInterval:    v.GetDuration("exchange.status_interval"),
			StatusTimeout:     v.GetDuration("exchange.status_timeout"),
			RequestsPerMinute: v.GetInt("exchange.requests_per_minute"),
			ReferenceURL:      v.GetString("exchange.reference_url"),
		},
		Bundle: BundleConfig{
			BlockEngineURL: v.GetString("bundle.block_engine_url"),
			TipLamports:    v.GetUint64("bundle.tip_lamports"),
			PollInterval:   v.GetDuration("bundle.poll_interval"),
			MaxPolls:       v.GetInt("bundle.max_polls"),
		},
		Ledger: LedgerConfig{
			FilePath: v.GetString("ledger.file_path"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.skip_preflight", true)
	v.SetDefault("solana.usdc_mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	v.SetDefault("solana.usdc_decimals", 6)
	v.SetDefault("solana.fee_token_mint", "So11111111111111111111111111111111111111112")

	v.SetDefault("deposit.poll_interval", 15*time.Second)
	v.SetDefault("deposit.timeout", 10*time.Minute)
	v.SetDefault("deposit.signature_limit", 20)
	v.SetDefault("deposit.retention", 24*time.Hour)

	v.SetDefault("swap.fee_rate", "0.05")
	v.SetDefault("swap.max_amount", "1000000")
	v.SetDefault("swap.base_priority_fee", 50000)
	v.SetDefault("swap.compute_unit_limit", 400000)
	v.SetDefault("swap.quote_slippage_bps", 100)
	v.SetDefault("swap.swap_slippage_bps", 200)
	v.SetDefault("swap.max_attempts", 3)
	v.SetDefault("swap.confirm_interval", time.Second)
	v.SetDefault("swap.confirm_timeout", 30*time.Second)
	v.SetDefault("swap.retry_delay", 2*time.Second)
	v.SetDefault("swap.handle_retention", time.Hour)

	v.SetDefault("jupiter.base_url", "https://quote-api.jup.ag/v6")

	v.SetDefault("exchange.provider", "changenow")
	v.SetDefault("exchange.base_url", "https://api.changenow.io/v2")
	v.SetDefault("exchange.oneclick_url", "https://1click.chaindefuser.com")
	v.SetDefault("exchange.min_amount_ttl", time.Minute)
	v.SetDefault("exchange.max_rate_deviation", "0.05")
	v.SetDefault("exchange.status_interval", 30*time.Second)
	v.SetDefault("exchange.status_timeout", 2*time.Hour)
	v.SetDefault("exchange.requests_per_minute", 5)
	v.SetDefault("exchange.reference_url", "https://api.coingecko.com/api/v3")

	v.SetDefault("bundle.block_engine_url", "mainnet.block-engine.jito.wtf")
	v.SetDefault("bundle.tip_lamports", 1000)
	v.SetDefault("bundle.poll_interval", time.Second)
	v.SetDefault("bundle.max_polls", 30)

	v.SetDefault("mongo.database", "swapbot")
	v.SetDefault("server.addr", ":8080")
}

// Validate checks the keys every command that moves funds needs.
func (c *Config) Validate() error {
	var errs []error

	if c.Solana.RPCURL == "" {
		errs = append(errs, errors.New("solana.rpc_url is required"))
	}
	if c.Solana.PrivateKey == "" {
		errs = append(errs, errors.New("intermediary key not found. Please set SWAPBOT_SOLANA_PRIVATE_KEY or add solana.private_key to .swapbot.yaml"))
	}
	if c.Swap.FeeRate.IsNegative() || c.Swap.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("swap.fee_rate must be in [0, 1), got %s", c.Swap.FeeRate))
	}
	if !c.Swap.MaxAmount.IsPositive() {
		errs = append(errs, fmt.Errorf("swap.max_amount must be positive, got %s", c.Swap.MaxAmount))
	}
	if c.Swap.MaxAttempts < 1 {
		errs = append(errs, errors.New("swap.max_attempts must be at least 1"))
	}
	if c.Bundle.MaxPolls < 1 {
		errs = append(errs, errors.New("bundle.max_polls must be at least 1"))
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"deposit.poll_interval", c.Deposit.PollInterval},
		{"deposit.timeout", c.Deposit.Timeout},
		{"swap.confirm_interval", c.Swap.ConfirmInterval},
		{"swap.confirm_timeout", c.Swap.ConfirmTimeout},
		{"swap.handle_retention", c.Swap.HandleRetention},
		{"exchange.status_interval", c.Exchange.StatusInterval},
		{"exchange.status_timeout", c.Exchange.StatusTimeout},
		{"bundle.poll_interval", c.Bundle.PollInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.value))
		}
	}
	if c.Swap.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("swap.retry_delay must not be negative, got %s", c.Swap.RetryDelay))
	}
	// Processed signatures must outlive the window a deposit can still match.
	if c.Deposit.Retention <= c.Deposit.Timeout {
		errs = append(errs, fmt.Errorf("deposit.retention (%s) must be longer than deposit.timeout (%s)", c.Deposit.Retention, c.Deposit.Timeout))
	}
	if c.Bundle.TipLamports < 1000 {
		errs = append(errs, fmt.Errorf("bundle.tip_lamports must be at least 1000, got %d", c.Bundle.TipLamports))
	}

	switch c.Exchange.Provider {
	case "changenow":
		if c.Exchange.APIKey == "" {
			errs = append(errs, errors.New("exchange.api_key is required for changenow"))
		}
	case "oneclick":
		if c.Exchange.JWTToken == "" {
			errs = append(errs, errors.New("exchange.jwt_token is required for oneclick"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown exchange.provider %q", c.Exchange.Provider))
	}

	return errors.Join(errs...)
}
