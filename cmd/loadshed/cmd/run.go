package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/loadshed/internal/service/orchestrator"
)

var (
	// duration overrides the event duration from the configuration.
	duration time.Duration
	// dryRun runs against the in-process simulator.
	dryRun bool
	// startAt delays the event start.
	startAt string
	// force starts even when the journal shows held overrides.
	force bool
	// metricsAddress overrides the metrics listen address.
	metricsAddress string

	// runCmd runs one event.
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one load-shed event.",
		Long: `Runs one event: applies the policy's initial overrides, monitors the devices
until the event duration elapses, then releases every override and closes the
gateway session. Interrupting the command (Ctrl+C, SIGTERM) ends the event early;
overrides are still released before it exits.

The command exits with a non-zero status when any override could not be released.
Those points are listed in the log and in the journal; clear them with
"loadshed release".`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			at, err := orchestrator.ParseStartAt(startAt, time.Now())
			if err != nil {
				return err
			}

			return orchestrator.Run(ctx, &orchestrator.Options{
				ConfigPath:     configPath,
				Duration:       duration,
				DryRun:         dryRun,
				StartAt:        at,
				Force:          force,
				JournalPath:    journalPath,
				MetricsAddress: metricsAddress,
				LogLevel:       logLevel,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	runCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "event duration (overrides config)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against the in-process gateway simulator")
	runCmd.Flags().StringVar(&startAt, "start-at", "", "start at HH:MM local time or an RFC 3339 timestamp")
	runCmd.Flags().BoolVar(&force, "force", false, "start even if an earlier event left overrides held")
	runCmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "serve Prometheus metrics on this address")
}
