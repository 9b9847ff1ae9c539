package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/loadshed/internal/service/history"
)

var (
	// historyEventID selects the event whose records are listed.
	historyEventID string
	// historyDevice limits the record listing to one device.
	historyDevice string

	// historyCmd prints the journal.
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recorded events and their status.",
		Long: `Prints one line per event found in the journal with its status: completed,
completed_with_failures, or incomplete for events that never finished. With
--event, every record of that event follows the table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return history.Run(ctx, &history.Options{
				ConfigPath:  configPath,
				JournalPath: journalPath,
				EventID:     historyEventID,
				Device:      historyDevice,
				Output:      cmd.OutOrStdout(),
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	historyCmd.Flags().StringVar(&historyEventID, "event", "", "list the records of this event ID")
	historyCmd.Flags().StringVar(&historyDevice, "device", "", "with --event, list only records of this device")
}
