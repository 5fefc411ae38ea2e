package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <user-id> <solana-wallet> <btc-address>",
	Short: "Register a user's wallet and BTC payout address",
	Long: `Register a user, or update the addresses of an existing one.

The Solana wallet is where the user's USDC deposits come from. The BTC
address receives the exchange payout.

Examples:
  swapbot register 42 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU bc1q...`,
	Args: cobra.ExactArgs(3),
	Run:  runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) {
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

	user, err := a.Orchestrator.RegisterUser(cmd.Context(), userID, args[1], args[2])
	if err != nil {
		printError(err)
		closeApp(a)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(user, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	color.Green("\n✓ User %d registered", user.ID)
	fmt.Printf("  Solana Wallet: %s\n", color.CyanString(user.SourceAddress))
	fmt.Printf("  BTC Address:   %s\n\n", color.CyanString(user.DestinationAddress))
}
