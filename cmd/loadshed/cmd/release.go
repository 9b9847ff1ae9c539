package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/loadshed/internal/service/release"
)

var (
	// releaseEventID limits the release to one event.
	releaseEventID string

	// releaseCmd clears overrides left by earlier events.
	releaseCmd = &cobra.Command{
		Use:   "release",
		Short: "Release overrides an earlier event left behind.",
		Long: `Replays the event journal and releases every override that was applied but never
released, at the priority it was written with. Use it after a crash, a power
loss, or an event that finished with release failures.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			return release.Run(ctx, &release.Options{
				ConfigPath:  configPath,
				JournalPath: journalPath,
				EventID:     releaseEventID,
				LogLevel:    logLevel,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	releaseCmd.Flags().StringVar(&releaseEventID, "event", "", "release only this event ID")
}
