// Package app wires the outbound router command line: the admin service and
// the offline tools that check a configuration file.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbound-router",
		Short: "Configuration-routed pool of outbound HTTP clients",
		Long: `outbound-router keeps one pooled HTTP client per client configuration and
picks the client for each outbound call by matching its host, path and
WS-Addressing To URI against the configured patterns.

Run 'outbound-router serve' to start the admin API, or 'outbound-router
validate FILE' to check a configuration file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var envFile string
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading configuration")

	cmd.AddCommand(
		newServeCommand(&envFile),
		newValidateCommand(),
		newResolveCommand(),
		newTokenCommand(&envFile),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
