package main

import (
	"fmt"
	"os"

	"livechat-backend/internal/bootstrap"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := bootstrap.SignalContext()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "livechat-admin",
	Short: "Operator tool for the livechat backend",
	Long: `livechat-admin manages the livechat backend's storage and merges.

Examples:
  livechat-admin tables ensure
  livechat-admin merges pending --older-than 5m
  livechat-admin merges resume <closeRoomId>
  livechat-admin agents put --id u1 --username alice --role livechat-agent
  livechat-admin token issue --id u1`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(mergesCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(tokenCmd)
}
