package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API that registers users, starts swaps and reports their status.

Routes:
  POST /users                     register or update a user
  POST /swaps                     start a swap, returns a handle id
  GET  /swaps/:id                 progress of a started swap
  GET  /status/:id                status by deposit signature or order id
  GET  /users/:id/transactions    recent swaps of a user
  POST /recheck/:signature        re-query a pending bundle
  GET  /limits                    current swap limits
  GET  /health                    RPC reachability and block height`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer closeApp(a)

	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	color.Green("\nServing on %s. Press Ctrl+C to stop.\n", a.Config.Server.Addr)
	if err := a.Serve(cmd.Context()); err != nil {
		printError(err)
		closeApp(a)
		os.Exit(1)
	}
}
