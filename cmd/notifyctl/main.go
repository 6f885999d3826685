// notifyctl is an operator CLI for the notifyhub HTTP API.
//
// Usage:
//
//	notifyctl trigger order_created '{"id": 42, "status": "paid"}'
//	notifyctl deliveries list --status failed
//	notifyctl deliveries get 7c0b9f0e-...
//	notifyctl stats -o json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	outputFmt string
	serverURL string
	apiKey    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "notifyctl",
		Short: "Trigger events and inspect deliveries on a notifyhub server",
		Long: `notifyctl talks to the notifyhub HTTP API.

The server address and API key default to the NOTIFYHUB_URL and
NOTIFYHUB_API_KEY environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("NOTIFYHUB_URL", "http://localhost:8080"), "notifyhub base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("NOTIFYHUB_API_KEY"), "API key")

	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(deliveriesCmd())
	rootCmd.AddCommand(statsCmd())
	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
