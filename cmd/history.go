package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapbot/pkg/ledger"
	"swapbot/pkg/orchestrator"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "List a user's recent swaps",
	Long: `List the most recent swaps of a user, newest first.

Examples:
  swapbot history 42
  swapbot history 42 --limit 20`,
	Args: cobra.ExactArgs(1),
	Run:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", orchestrator.DefaultHistoryLimit, "Number of swaps to show")
}

func runHistory(cmd *cobra.Command, args []string) {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		printError(fmt.Errorf("invalid user id %q", args[0]))
		os.Exit(1)
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := openApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer closeApp(a)

	records, err := a.Orchestrator.History(cmd.Context(), userID, historyLimit)
	if err != nil {
		printError(err)
		closeApp(a)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayHistory(records)
}

func displayHistory(records []*ledger.Record) {
	if len(records) == 0 {
		fmt.Println("\nNo swaps found for this user.")
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tAMOUNT\tSTAGE\tORDER\tDEPOSIT TX")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, r := range records {
		order := r.ExchangeOrderID
		if order == "" {
			order = "-"
		}
		fmt.Fprintf(w, "%s\t%s USDC\t%s\t%s\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Amount,
			getStageColor(r.Stage),
			order,
			shorten(r.Signature))
	}
	w.Flush()
	fmt.Println()
}

func getStageColor(stage ledger.Stage) string {
	switch stage {
	case ledger.StageLanded:
		return color.GreenString(string(stage))
	case ledger.StageFailed:
		return color.RedString(string(stage))
	default:
		return color.YellowString(string(stage))
	}
}

func shorten(s string) string {
	if len(s) > 20 {
		return s[:8] + "..." + s[len(s)-8:]
	}
	return s
}
