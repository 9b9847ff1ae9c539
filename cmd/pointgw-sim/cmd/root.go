package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/service/simulator"
	"github.com/oshokin/loadshed/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where priority arrays are persisted.
	stateFile string
	// advertise publishes the server over mDNS.
	advertise bool
	// accessLogLevel enables the per-request log.
	accessLogLevel string

	// rootCmd represents the base command for running the simulator.
	rootCmd = &cobra.Command{
		Use:   "pointgw-sim [listen-address]",
		Short: "Serve the Point Gateway API from simulated devices.",
		Long: `Starts a gRPC Point Gateway backed by in-memory priority arrays (16 levels plus
a relinquish default per point), seeded from the devices and simulator values of
the configuration file.

Listen address can be provided as argument to override config (e.g., :50051).
Priority arrays are persisted to a JSON file for recovery across restarts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return simulator.Run(ctx, &simulator.Options{
				ConfigPath:     configPath,
				ListenAddress:  listenAddress,
				StateFile:      stateFile,
				Advertise:      advertise,
				AccessLogLevel: accessLogLevel,
			})
		},
	}
)

// Execute runs the pointgw-sim CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&stateFile, "state-file", "s", "", "path to persist priority arrays (overrides config)")
	rootCmd.Flags().BoolVar(&advertise, "advertise", false, "advertise the gateway over mDNS")
	rootCmd.Flags().StringVar(&accessLogLevel, "access-log", "", "log every RPC at this level (debug, info, warn)")
}
