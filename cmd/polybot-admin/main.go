// Command polybot-admin performs one-off certificate and webhook operations
// against the same configuration the service uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"polybot/internal/config"
	"polybot/internal/observability"
)

var (
	logLevel string

	rootCmd = &cobra.Command{
		Use:           "polybot-admin",
		Short:         "polybot certificate and webhook maintenance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.Init(observability.LogConfig{Level: logLevel})
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(gencertCmd, webhookCmd, reconcileCmd)
}

// loadConfig is called by the commands that talk to the Bot API.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
