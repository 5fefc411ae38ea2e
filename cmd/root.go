package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapbot/config"
	"swapbot/pkg/app"
	"swapbot/pkg/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "swapbot",
	Short: "Swap USDC on Solana into BTC",
	Long: `swapbot turns a USDC deposit on Solana into BTC at the user's address.

Each swap waits for the user's deposit to the intermediary wallet, converts
the service fee into SOL, opens an exchange order and pays the order from
the intermediary wallet inside a tipped Jito bundle.

Examples:
  swapbot register 42 <solana-wallet> <btc-address>
  swapbot swap 100 USDC to BTC --user 42
  swapbot status <deposit-signature>
  swapbot history 42
  swapbot limits --amount 100
  swapbot serve`,
	Version: "0.1.0",
}

// Execute runs the root command. Cancelling ctx stops running swaps.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default is $HOME/.swapbot.yaml)")
}

// openApp loads the configuration and connects every client. Verbose runs
// log at debug level.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(context.Background()); err != nil {
		a.Logger.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
