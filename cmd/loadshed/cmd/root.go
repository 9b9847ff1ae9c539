package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// journalPath overrides the journal file from the configuration.
	journalPath string
	// logLevel overrides the log level from the configuration.
	logLevel string

	// rootCmd represents the base command; subcommands do the work.
	rootCmd = &cobra.Command{
		Use:   "loadshed",
		Short: "Run demand-response load-shed events.",
		Long: `Overrides setpoints and stage outputs of the configured devices for the length
of a load-shed event, and releases every override back to normal control when
the event ends, is interrupted, or partially fails.

Devices, the evaluation policy and timing are read from the configuration file.
Every decision is appended to the event journal, which the release and history
commands read after the fact.`,
		SilenceUsage: true,
	}
)

// Execute runs the loadshed CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&journalPath, "journal", "j", "", "path to the event journal (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(runCmd, releaseCmd, historyCmd)
}
