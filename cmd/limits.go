package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var previewAmount string

var limitsCmd = &cobra.Command{
	Use:     "limits",
	Aliases: []string{"rate"},
	Short:   "Show the swap limits and preview a payout",
	Long: `Show the exchange provider, the service fee and the accepted amounts.

With --amount the expected BTC payout for that gross USDC deposit is
estimated as well.

Examples:
  swapbot limits
  swapbot limits --amount 100`,
	Args: cobra.NoArgs,
	Run:  runLimits,
}

func init() {
	rootCmd.AddCommand(limitsCmd)

	limitsCmd.Flags().StringVarP(&previewAmount, "amount", "a", "", "Gross USDC amount to preview")
}

func runLimits(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	var gross decimal.Decimal
	if previewAmount != "" {
		var err error
		gross, err = decimal.NewFromString(previewAmount)
		if err != nil || !gross.IsPositive() {
			printError(fmt.Errorf("invalid amount %q", previewAmount))
			os.Exit(1)
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer closeApp(a)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching limits..."
		s.Start()
	}

	limits, err := a.Orchestrator.Limits(ctx)
	var net, estimate decimal.Decimal
	if err == nil && previewAmount != "" {
		net, estimate, err = a.Orchestrator.Preview(ctx, gross)
	}
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		closeApp(a)
		os.Exit(1)
	}

	if jsonOutput {
		output := map[string]interface{}{"limits": limits}
		if previewAmount != "" {
			output["preview"] = map[string]interface{}{
				"gross":    gross,
				"net":      net,
				"estimate": estimate,
			}
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    SWAP LIMITS")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Provider:          %s\n", color.CyanString(limits.Provider))
	fmt.Printf("  Service Fee:       %s%%\n", limits.FeeRate.Mul(decimal.NewFromInt(100)))
	fmt.Printf("  Exchange Minimum:  %s USDC\n", limits.MinAmount)
	fmt.Printf("  Smallest Deposit:  %s USDC\n", limits.MinGross)
	fmt.Printf("  Largest Deposit:   %s USDC\n", limits.MaxAmount)

	if previewAmount != "" {
		fmt.Printf("\n  Deposit:           %s USDC\n", gross)
		fmt.Printf("  Exchanged:         %s USDC\n", net)
		fmt.Printf("  Expected Payout:   ~%s %s\n", estimate, color.YellowString("BTC"))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
