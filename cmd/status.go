package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapbot/pkg/app"
	"swapbot/pkg/exchange"
	"swapbot/pkg/orchestrator"
	"swapbot/pkg/poll"
)

var (
	watchStatus   bool
	recheckBundle bool
)

var statusCmd = &cobra.Command{
	Use:   "status <deposit-signature | order-id>",
	Short: "Check the status of a swap",
	Long: `Check a swap by its deposit signature or its exchange order id.

The ledger record is shown together with the exchange provider's view of
the order.

Examples:
  swapbot status 5h3k...deposit-signature
  swapbot status 5h3k...deposit-signature --watch
  swapbot status 5h3k...deposit-signature --recheck`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch the exchange until it finishes")
	statusCmd.Flags().BoolVar(&recheckBundle, "recheck", false, "Re-query a pending bundle before reporting")
}

func runStatus(cmd *cobra.Command, args []string) {
	id := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := openApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer closeApp(a)

	if recheckBundle {
		record, err := a.Orchestrator.Recheck(ctx, id)
		if err != nil {
			printError(err)
			closeApp(a)
			os.Exit(1)
		}
		if !jsonOutput {
			color.Cyan("\nBundle %s is %s", record.BundleID, record.BundleStatus)
		}
	}

	report, err := checkSwapStatus(ctx, a, id, jsonOutput)
	if err != nil {
		printError(err)
		closeApp(a)
		os.Exit(1)
	}

	if watchStatus {
		if jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			closeApp(a)
			os.Exit(1)
		}
		watchSwapStatus(ctx, a, report)
	}
}

func checkSwapStatus(ctx context.Context, a *app.App, id string, jsonOutput bool) (*orchestrator.StatusReport, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking swap status..."
		s.Start()
	}

	report, err := a.Orchestrator.Status(ctx, id)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return nil, err
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayStatus(report)
	}
	return report, nil
}

func watchSwapStatus(ctx context.Context, a *app.App, report *orchestrator.StatusReport) {
	orderID := ""
	switch {
	case report.Order != nil:
		orderID = report.Order.ID
	case report.Record != nil:
		orderID = report.Record.ExchangeOrderID
	}
	if orderID == "" {
		color.Yellow("No exchange order to watch yet.")
		return
	}
	if report.Order != nil && report.Order.Status.Terminal() {
		return
	}

	fmt.Printf("\nWatching exchange %s every %s. Press Ctrl+C to stop.\n", color.CyanString(orderID), a.Config.Exchange.StatusInterval)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for the exchange to finish..."
	s.Start()
	state, err := a.Exchange.WaitStatus(ctx, orderID)
	s.Stop()

	if state != nil {
		displayStatus(&orchestrator.StatusReport{Order: state})
	}
	switch {
	case errors.Is(err, poll.ErrTimeout):
		color.Yellow("Exchange still running after %s, check again later.", a.Config.Exchange.StatusTimeout)
	case err != nil:
		color.Red("Error: %v", err)
	}
}

func displayStatus(report *orchestrator.StatusReport) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        SWAP STATUS")
	fmt.Println(strings.Repeat("=", 70))

	if report.Record != nil {
		fmt.Println()
		fmt.Println(indent(orchestrator.RenderRecord(report.Record)))
	}
	if report.Order != nil {
		fmt.Printf("\n  Exchange:        %s\n", getColoredStatus(report.Order.Status))
		fmt.Println()
		fmt.Println(indent(orchestrator.RenderOrderState(report.Order)))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func getColoredStatus(status exchange.OrderStatus) string {
	text := status.Marker() + " " + strings.ToUpper(string(status))

	switch status {
	case exchange.StatusFinished:
		return color.GreenString(text)
	case exchange.StatusNew, exchange.StatusWaiting, exchange.StatusConfirming, exchange.StatusExchanging, exchange.StatusSending:
		return color.YellowString(text)
	case exchange.StatusFailed, exchange.StatusRefunded, exchange.StatusExpired:
		return color.RedString(text)
	default:
		return text
	}
}
