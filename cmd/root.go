// Package cmd defines and implements the CLI commands for the
// policy-ingest executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy-ingest",
		Short: "Downloads and validates policy PDF documents.",
		Long: `policy-ingest consumes a list of candidate document URLs produced by
the discovery and filter stages, downloads each one with bounded
concurrency, validates that the response is a genuine PDF, and records
one canonical metadata record per document. Failed URLs land in a
failure log that can be replayed with --from-failures.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults apply without one")
	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point. Configuration and startup errors
// exit non-zero; per-URL failures during a run do not.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
