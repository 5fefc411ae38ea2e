package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapbot/pkg/app"
	"swapbot/pkg/orchestrator"
	"swapbot/pkg/parser"
	"swapbot/pkg/types"
)

var (
	swapUserID int64
	noConfirm  bool
	noWait     bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> [USDC to BTC]",
	Short: "Swap a USDC deposit into BTC",
	Long: `Start a swap for a registered user and wait for it to finish.

The user sends the gross amount of USDC from their registered wallet to the
intermediary address shown. The service fee is kept, the rest is exchanged
into BTC and paid out to the user's registered BTC address.

Examples:
  swapbot swap 100 USDC to BTC --user 42
  swapbot swap 250.5 --user 42 --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().Int64VarP(&swapUserID, "user", "u", 0, "Registered user id (REQUIRED)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	swapCmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the swap is started")
	_ = swapCmd.MarkFlagRequired("user")
}

func runSwap(cmd *cobra.Command, args []string) {
	command, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := openApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer closeApp(a)

	req, err := a.Orchestrator.Prepare(ctx, swapUserID, command.Amount)
	if err != nil {
		printError(fmt.Errorf("%s", types.UserMessage(err)))
		closeApp(a)
		os.Exit(1)
	}

	if !jsonOutput {
		displaySwap(a, req)
		if !noConfirm && !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			return
		}
	}

	handle, err := a.Orchestrator.InitiateSwap(ctx, swapUserID, command.Amount)
	if err != nil {
		printError(fmt.Errorf("%s", types.UserMessage(err)))
		closeApp(a)
		os.Exit(1)
	}

	if noWait {
		if jsonOutput {
			jsonData, _ := json.MarshalIndent(map[string]interface{}{
				"handle":          handle.ID,
				"deposit_address": a.Wallet.PublicKey().String(),
				"gross":           req.Gross,
				"net":             req.Net,
			}, "", "  ")
			fmt.Println(string(jsonData))
		} else {
			printSuccess(fmt.Sprintf("Swap %s started.", handle.ID))
		}
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Waiting for deposit and settlement..."
		s.Start()
	}
	out, err := handle.Wait(ctx)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		color.Yellow("\nStopped waiting: %v", err)
		return
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(outcomeJSON(out), "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayOutcome(out)
	if out.Err != nil {
		closeApp(a)
		os.Exit(1)
	}
}

func displaySwap(a *app.App, req *types.SwapRequest) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Send:              %s %s\n", req.Gross, color.YellowString("USDC"))
	fmt.Printf("  From Wallet:       %s\n", req.SourceAddress)
	fmt.Printf("  To:                %s\n", color.CyanString(a.Wallet.PublicKey().String()))
	fmt.Printf("  Service Fee:       %s USDC (%s%%)\n", req.Fee, req.FeePercent())
	fmt.Printf("  Exchanged:         %s USDC\n", req.Net)
	fmt.Printf("  BTC Payout:        %s\n", req.DestinationAddress)
	fmt.Printf("  Deposit Window:    %s\n", a.Config.Deposit.Timeout)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displayOutcome(out *orchestrator.Outcome) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	switch {
	case out.Err != nil:
		color.Red("                     SWAP FAILED")
	case out.Indeterminate():
		color.Yellow("                   SWAP PENDING")
	default:
		color.Green("                    SWAP COMPLETE")
	}
	fmt.Println(strings.Repeat("=", 60))

	if out.DepositSignature != "" {
		fmt.Printf("\n  Deposit:           %s\n", color.CyanString(out.DepositSignature))
	}
	fmt.Printf("  Stage:             %s\n", out.Stage)
	if out.FeeSwapSignature != "" {
		fmt.Printf("  Fee Swap:          %s\n", color.HiBlackString(out.FeeSwapSignature))
	}
	if out.Order != nil {
		fmt.Printf("  Exchange Order:    %s (%s)\n", out.Order.ID, out.Order.Provider)
		fmt.Printf("  Quoted Output:     ~%s BTC\n", out.Order.QuotedOutput)
	}
	if out.Bundle != nil {
		fmt.Printf("  Bundle:            %s (%s)\n", out.Bundle.BundleID, out.Bundle.Status)
		if out.Bundle.Slot != nil {
			fmt.Printf("  Landed Slot:       %d\n", *out.Bundle.Slot)
		}
	}
	if out.Err != nil {
		fmt.Printf("\n  %s\n", color.RedString(types.UserMessage(out.Err)))
	}
	if out.Indeterminate() {
		fmt.Println("\nThe bundle outcome is not known yet. Recheck it later with:")
		color.Cyan("  swapbot status %s --recheck\n", out.DepositSignature)
	} else if out.DepositSignature != "" {
		fmt.Println("\nYou can monitor the exchange using:")
		color.Cyan("  swapbot status %s --watch\n", out.DepositSignature)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func outcomeJSON(out *orchestrator.Outcome) map[string]interface{} {
	m := map[string]interface{}{
		"deposit_signature":  out.DepositSignature,
		"stage":              out.Stage,
		"fee_swap_signature": out.FeeSwapSignature,
		"indeterminate":      out.Indeterminate(),
	}
	if out.Order != nil {
		m["order"] = out.Order
	}
	if out.Bundle != nil {
		m["bundle"] = out.Bundle
	}
	if out.Err != nil {
		m["error"] = types.UserMessage(out.Err)
		m["error_kind"] = types.KindOf(out.Err)
	}
	return m
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
