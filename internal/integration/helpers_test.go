package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/service/simulator"
)

// testConfig describes one rooftop unit with four stages and one zone.
func testConfig(gatewayAddress, journalPath, statePath string) *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{Address: gatewayAddress, Timeout: time.Second},
		Event: config.EventConfig{
			Duration:         time.Second,
			PollInterval:     100 * time.Millisecond,
			EvaluateInterval: 200 * time.Millisecond,
			ExpiryInterval:   50 * time.Millisecond,
			CallTimeout:      time.Second,
		},
		Policy: config.PolicyConfig{Kind: config.PolicyStaged},
		Devices: []config.DeviceConfig{
			{
				Name:    "RTU-1",
				Address: "10.200.200.21",
				Points: map[string]string{
					"stage-1": "binaryOutput 3",
					"stage-2": "binaryOutput 4",
					"stage-3": "binaryOutput 5",
					"stage-4": "binaryOutput 6",
				},
			},
		},
		Journal:   config.JournalConfig{Path: journalPath},
		Log:       config.LogConfig{Level: "warn"},
		Simulator: config.SimulatorConfig{Listen: "127.0.0.1:0", StateFile: statePath},
	}
}

// startSimulator runs pointgw-sim on a free port and returns its address.
// The server stops when the test ends.
func startSimulator(t *testing.T, statePath string) string {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, config.Save(cfgPath, testConfig(config.AddressInProcess, "", statePath)))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)

	go func() {
		done <- simulator.Run(ctx, &simulator.Options{
			ConfigPath: cfgPath,
			Ready: func(address string) {
				ready <- address
			},
		})
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case address := <-ready:
		return address
	case err := <-done:
		require.NoError(t, err)
		t.Fatal("simulator exited before serving")
	case <-time.After(5 * time.Second):
		t.Fatal("simulator did not start")
	}

	return ""
}

// writeConfig stores cfg in a temporary file and returns its path.
func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	require.NoError(t, config.Save(path, cfg))

	return path
}
