package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"swapbot/config"
	"swapbot/pkg/bundle"
	"swapbot/pkg/cache"
	"swapbot/pkg/chain"
	"swapbot/pkg/deposit"
	"swapbot/pkg/exchange"
	"swapbot/pkg/jupiter"
	"swapbot/pkg/ledger"
	"swapbot/pkg/orchestrator"
	"swapbot/pkg/server"
	"swapbot/pkg/swap"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const cachePrefix = "swapbot:"

// App owns every long lived client. Nothing in the process holds a
// connection outside of it.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Ledger       ledger.Ledger
	Cache        cache.Cache
	Chain        *chain.Client
	Wallet       *chain.Wallet
	Exchange     *exchange.Initiator
	Orchestrator *orchestrator.Orchestrator
}

// Open validates cfg and connects every dependency. A failed Open releases
// whatever it had already opened.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.Background()); closeErr != nil {
				logger.Warn("failed to release partially opened app", zap.Error(closeErr))
			}
			a = nil
		}
	}()

	a.Wallet, err = chain.NewWallet(cfg.Solana.PrivateKey)
	if err != nil {
		return a, fmt.Errorf("failed to load intermediary wallet: %w", err)
	}
	usdcMint, err := solana.PublicKeyFromBase58(cfg.Solana.USDCMint)
	if err != nil {
		return a, fmt.Errorf("invalid solana.usdc_mint: %w", err)
	}
	feeMint, err := solana.PublicKeyFromBase58(cfg.Solana.FeeTokenMint)
	if err != nil {
		return a, fmt.Errorf("invalid solana.fee_token_mint: %w", err)
	}

	if a.Ledger, err = openLedger(ctx, cfg, logger); err != nil {
		return a, err
	}
	if a.Cache, err = openCache(ctx, cfg, logger); err != nil {
		return a, err
	}

	a.Chain = chain.NewClient(cfg.Solana.RPCURL, cfg.Solana.Commitment, cfg.Solana.SkipPreflight)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	watcher, err := deposit.NewWatcher(a.Chain, a.Ledger, deposit.Config{
		Mint:           usdcMint,
		Decimals:       cfg.Solana.USDCDecimals,
		Intermediary:   a.Wallet.PublicKey(),
		PollInterval:   cfg.Deposit.PollInterval,
		Timeout:        cfg.Deposit.Timeout,
		SignatureLimit: cfg.Deposit.SignatureLimit,
		Retention:      cfg.Deposit.Retention,
	}, logger)
	if err != nil {
		return a, err
	}

	swapper := swap.NewExecutor(jupiter.NewClient(cfg.Jupiter.BaseURL, httpClient), a.Chain, a.Ledger, a.Wallet, swap.Config{
		InputMint:        usdcMint,
		OutputMint:       feeMint,
		InputDecimals:    cfg.Solana.USDCDecimals,
		BasePriorityFee:  cfg.Swap.BasePriorityFee,
		ComputeUnitLimit: cfg.Swap.ComputeUnitLimit,
		QuoteSlippageBps: cfg.Swap.QuoteSlippageBps,
		SwapSlippageBps:  cfg.Swap.SwapSlippageBps,
		MaxAttempts:      cfg.Swap.MaxAttempts,
		ConfirmInterval:  cfg.Swap.ConfirmInterval,
		ConfirmTimeout:   cfg.Swap.ConfirmTimeout,
		RetryDelay:       cfg.Swap.RetryDelay,
	}, logger)

	provider, err := newProvider(cfg, a.Wallet.PublicKey().String(), httpClient)
	if err != nil {
		return a, err
	}
	a.Exchange = exchange.NewInitiator(provider, a.Ledger, a.Cache, exchange.NewPricer(cfg.Exchange.ReferenceURL, httpClient), exchange.Config{
		MinAmountTTL:     cfg.Exchange.MinAmountTTL,
		MaxRateDeviation: cfg.Exchange.MaxRateDeviation,
		StatusInterval:   cfg.Exchange.StatusInterval,
		StatusTimeout:    cfg.Exchange.StatusTimeout,
	}, logger)

	submitter := bundle.NewSubmitter(bundle.NewJitoClient(cfg.Bundle.BlockEngineURL), a.Chain, a.Wallet, bundle.Config{
		PollInterval: cfg.Bundle.PollInterval,
		MaxPolls:     cfg.Bundle.MaxPolls,
	}, logger)

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Ledger:    a.Ledger,
		Watcher:   watcher,
		Swapper:   swapper,
		Exchange:  a.Exchange,
		Bundles:   submitter,
		Transfers: orchestrator.NewTransferBuilder(a.Chain, a.Wallet, usdcMint, cfg.Solana.USDCDecimals),
		Notifier:  orchestrator.LogNotifier{Logger: logger},
	}, orchestrator.Config{
		FeeRate:         cfg.Swap.FeeRate,
		MaxAmount:       cfg.Swap.MaxAmount,
		TipLamports:     cfg.Bundle.TipLamports,
		Decimals:        cfg.Solana.USDCDecimals,
		HandleRetention: cfg.Swap.HandleRetention,
	}, logger)

	logger.Info("app ready",
		zap.String("intermediary", a.Wallet.PublicKey().String()),
		zap.String("provider", provider.Name()))
	return a, nil
}

func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Ledger, error) {
	switch {
	case cfg.Mongo.URI != "":
		store, err := ledger.OpenMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo ledger: %w", err)
		}
		logger.Info("using mongo ledger", zap.String("database", cfg.Mongo.Database))
		return store, nil
	case cfg.Ledger.FilePath != "":
		store, err := ledger.OpenFileStore(cfg.Ledger.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger file: %w", err)
		}
		logger.Info("using file ledger", zap.String("path", store.GetFilePath()))
		return store, nil
	default:
		logger.Warn("no ledger configured, records are kept in memory only")
		return ledger.NewMemoryStore(), nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	if cfg.Redis.URL == "" {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(ctx, cfg.Redis.URL, cachePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("using redis cache")
	return c, nil
}

func newProvider(cfg *config.Config, refundTo string, httpClient *http.Client) (exchange.Provider, error) {
	switch cfg.Exchange.Provider {
	case "changenow":
		return exchange.NewChangeNow(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.RequestsPerMinute, httpClient), nil
	case "oneclick":
		return exchange.NewOneClick(cfg.Exchange.OneClickURL, cfg.Exchange.JWTToken, refundTo, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown exchange provider %q", cfg.Exchange.Provider)
	}
}

// Serve runs the HTTP surface until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	err := server.New(a.Orchestrator, a.Chain, a.Logger).Run(ctx, a.Config.Server.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops running workflows and then releases the ledger and the cache.
func (a *App) Close(ctx context.Context) error {
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}

	var errs []error
	if a.Ledger != nil {
		if err := a.Ledger.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close ledger: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
