package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rshade/coalesce/internal/cache"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(NewConfigShowCmd(), NewConfigValidateCmd())
	return cmd
}

// NewConfigShowCmd creates the config show command, which prints the
// effective configuration after file and environment overrides.
func NewConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Example: `  # Show configuration with environment overrides applied
  COALESCE_MAX_WAIT=10ms coalesce config show`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("rendering configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// NewConfigValidateCmd creates the config validate command for validating configuration.
func NewConfigValidateCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validates the configuration file and environment overrides.

This includes:
- Batch size, wait window and concurrency ranges
- Log format
- Loader cache TTL and size bound`,
		Example: `  # Validate current configuration
  coalesce config validate

  # Validate and show detailed information
  coalesce config validate --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigValidate(cmd, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed validation information")

	return cmd
}

// runConfigValidate executes the configuration validation logic.
func runConfigValidate(cmd *cobra.Command, verbose bool) error {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return err
	}

	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cmd.Println("Configuration is valid")

	if verbose {
		cmd.Println()
		cmd.Println("Configuration details:")
		cmd.Printf("  Logging level: %s\n", cfg.Logging.Level)
		cmd.Printf("  Log format: %s\n", cfg.Logging.Format)
		cmd.Printf("  Log file: %s\n", cfg.Logging.File)
		cmd.Printf("  Max batch size: %d\n", cfg.Batching.MaxBatchSize)
		cmd.Printf("  Max wait: %s\n", cfg.Batching.MaxWait)
		cmd.Printf("  Concurrency: %d\n", cfg.Batching.Concurrency)
		if cfg.Loader.CacheEnabled {
			cmd.Printf("  Loader cache: enabled (ttl %s, max %d entries)\n",
				cache.FormatDuration(cfg.Loader.CacheTTL), cfg.Loader.CacheMaxEntries)
		} else {
			cmd.Println("  Loader cache: disabled")
		}
	}

	return nil
}
