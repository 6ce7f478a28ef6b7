// Package cli implements the coalesce command line.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/coalesce/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// logger is the package-level logger for CLI operations.
var logger = zerolog.Nop() //nolint:gochecknoglobals // Required for zerolog context integration

// NewRootCmd creates the root Cobra command for the coalesce CLI.
// It loads configuration, wires up logging and trace IDs, and registers the
// bench and config subcommands.
func NewRootCmd(ver string) *cobra.Command {
	var logResult *logging.LogPathResult

	cmd := &cobra.Command{
		Use:           "coalesce",
		Short:         "Request coalescing and cancellation toolkit",
		Long:          "coalesce: batch keyed requests behind a cancellation tree and measure the effect",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			result, err := setupLogging(cmd)
			if err != nil {
				return err
			}
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return cleanupLogging(cmd, logResult)
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to configuration file (default ./coalesce.yaml)")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.AddCommand(NewBenchCmd(), newConfigCmd())

	return cmd
}

const rootCmdExample = `  # Run a load test against a simulated backend
  coalesce bench --callers 200 --requests 50

  # Compare with the dataloader and a warm cache
  coalesce bench --loader --cache

  # Dump Prometheus metrics after the run
  coalesce bench --metrics

  # Show the effective configuration
  coalesce config show

  # Validate a configuration file
  coalesce config validate --config ./coalesce.yaml`
