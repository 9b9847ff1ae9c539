package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of one load-shed event run.
type Config struct {
	// Gateway configures the Point Gateway connection.
	Gateway GatewayConfig `yaml:"gateway"`
	// Event configures duration, write priority and cadences.
	Event EventConfig `yaml:"event"`
	// Policy selects and configures the evaluation policy.
	Policy PolicyConfig `yaml:"policy"`
	// Devices is the registry input, loaded once at startup.
	Devices []DeviceConfig `yaml:"devices"`
	// Journal configures the event journal file.
	Journal JournalConfig `yaml:"journal"`
	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
	// Log configures the structured log stream.
	Log LogConfig `yaml:"log"`
	// Simulator configures the pointgw-sim server.
	Simulator SimulatorConfig `yaml:"simulator"`
}

// GatewayConfig describes how to reach the Point Gateway.
type GatewayConfig struct {
	// Address is host:port of the gateway, AddressDiscover to browse mDNS,
	// or AddressInProcess to run against an in-process simulator.
	Address string `yaml:"address"`
	// Timeout bounds each gateway RPC.
	Timeout time.Duration `yaml:"timeout"`
	// DiscoveryTimeout bounds the mDNS browse when Address is AddressDiscover.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// EventConfig describes the timing of the event.
type EventConfig struct {
	// Duration is how long overrides are held.
	Duration time.Duration `yaml:"duration"`
	// Priority is the default write priority for devices that do not set one.
	Priority int `yaml:"priority"`
	// PollInterval is the cadence of the poll activity.
	PollInterval time.Duration `yaml:"poll_interval"`
	// EvaluateInterval is the cadence of the evaluate activity.
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`
	// ExpiryInterval is the cadence of the check-expiry activity.
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
	// CallTimeout bounds each read, write or release issued by the orchestrator.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// Policy kinds.
const (
	PolicySetpoint = "setpoint"
	PolicyStaged   = "staged"
	PolicyStepped  = "stepped"
)

// PolicyConfig selects the evaluation policy.
type PolicyConfig struct {
	// Kind is one of PolicySetpoint, PolicyStaged, PolicyStepped.
	Kind string `yaml:"kind"`
	// Setpoint configures the threshold-release setpoint policy.
	Setpoint SetpointPolicyConfig `yaml:"setpoint"`
	// Staged configures the active-count staged capacity policy.
	Staged StagedPolicyConfig `yaml:"staged"`
	// Stepped configures the time-stepped staged policy.
	Stepped SteppedPolicyConfig `yaml:"stepped"`
}

// SetpointPolicyConfig configures setpoint overrides.
type SetpointPolicyConfig struct {
	// Adjustment is added to the sensor reading to compute the override.
	Adjustment float64 `yaml:"adjustment"`
	// Fixed, when set, is written instead of sensor + Adjustment.
	Fixed *float64 `yaml:"fixed,omitempty"`
	// ReleaseAbove, when set, releases a device whose sensor reaches it.
	ReleaseAbove *float64 `yaml:"release_above,omitempty"`
}

// StagedPolicyConfig configures the active-count lookup table.
type StagedPolicyConfig struct {
	// Table maps the number of active stages to the stage roles forced off.
	Table map[int][]string `yaml:"table"`
	// History is the number of recent active counts kept per device.
	History int `yaml:"history"`
}

// SteppedPolicyConfig configures escalation steps.
type SteppedPolicyConfig struct {
	// Steps are applied once the event has run for their After duration.
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig is one escalation step.
type StepConfig struct {
	// After is the elapsed event time at which the step becomes due.
	After time.Duration `yaml:"after"`
	// ForceOff lists the stage roles forced off by the step.
	ForceOff []string `yaml:"force_off"`
}

// DeviceConfig is one registry entry.
type DeviceConfig struct {
	// Name is the unique device name.
	Name string `yaml:"name"`
	// Address is the device network address.
	Address string `yaml:"address"`
	// Points maps roles (sensor, setpoint, stage-N) to point identifiers.
	Points map[string]string `yaml:"points"`
	// Priority overrides Event.Priority for this device when non-zero.
	Priority int `yaml:"priority,omitempty"`
}

// JournalConfig configures the event journal.
type JournalConfig struct {
	// Path is the journal file; empty disables journaling.
	Path string `yaml:"path"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Address is the HTTP listen address for /metrics; empty disables it.
	Address string `yaml:"address"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string `yaml:"level"`
	// Format is console or json.
	Format string `yaml:"format"`
}

// SimulatorConfig configures the simulated gateway server.
type SimulatorConfig struct {
	// Listen is the gRPC listen address.
	Listen string `yaml:"listen"`
	// StateFile persists simulated priority arrays across restarts.
	StateFile string `yaml:"state_file"`
	// Advertise publishes the server over mDNS.
	Advertise bool `yaml:"advertise"`
	// Values seeds relinquish defaults keyed by "address point".
	Values map[string]string `yaml:"values"`
}

const (
	// DefaultConfigFilename is the default filename for event settings.
	DefaultConfigFilename = "loadshed.yaml"

	// DefaultJournalFilename is the default filename for the event journal.
	DefaultJournalFilename = "loadshed-journal.cbor"

	// DefaultStateFilename is the default filename for simulator state JSON.
	DefaultStateFilename = "pointgw-sim-state.json"

	// DefaultTimeout is the default duration for gateway RPCs.
	DefaultTimeout = 5 * time.Second

	// DefaultDiscoveryTimeout bounds the mDNS browse for a gateway.
	DefaultDiscoveryTimeout = 10 * time.Second

	// DefaultPriority is the default priority-array level for overrides.
	DefaultPriority = 8

	// DefaultPollInterval is the default poll cadence.
	DefaultPollInterval = 60 * time.Second

	// DefaultEvaluateInterval is the default evaluation cadence.
	DefaultEvaluateInterval = 120 * time.Second

	// DefaultExpiryInterval is the default check-expiry cadence.
	DefaultExpiryInterval = 5 * time.Second

	// DefaultSimulatorListen is the default simulator listen address.
	DefaultSimulatorListen = ":50051"

	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600

	// AddressDiscover makes the client browse mDNS for a gateway.
	AddressDiscover = "mdns"

	// AddressInProcess runs the event against an in-process simulator.
	AddressInProcess = "inproc"

	// minPriority and maxPriority bound priority-array levels.
	minPriority = 1
	maxPriority = 16
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errGatewayRequired is returned when the gateway address is missing.
	errGatewayRequired = errors.New("gateway address must be provided")
	// errDurationRequired is returned when the event duration is missing.
	errDurationRequired = errors.New("event duration must be positive")
	// errInvalidPriority is returned for priorities outside the priority array.
	errInvalidPriority = errors.New("priority must be between 1 and 16")
	// errUnknownPolicy is returned for unsupported policy kinds.
	errUnknownPolicy = errors.New("unknown policy kind")
	// errNoDevices is returned when the registry input is empty.
	errNoDevices = errors.New("at least one device must be configured")
	// errInvalidDevice is returned for incomplete device entries.
	errInvalidDevice = errors.New("invalid device")
)

// Load reads configuration from the provided path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
//
//nolint:cyclop // Flat list of independent checks.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if err := validateGateway(&settings.Gateway); err != nil {
		return err
	}

	if err := validateEvent(&settings.Event); err != nil {
		return err
	}

	if err := validatePolicy(&settings.Policy); err != nil {
		return err
	}

	if len(settings.Devices) == 0 {
		return errNoDevices
	}

	seen := make(map[string]struct{}, len(settings.Devices))

	for i := range settings.Devices {
		device := &settings.Devices[i]

		if err := validateDevice(device); err != nil {
			return err
		}

		if _, found := seen[device.Name]; found {
			return fmt.Errorf("%w: duplicate name %q", errInvalidDevice, device.Name)
		}

		seen[device.Name] = struct{}{}
	}

	if settings.Simulator.Listen == "" {
		settings.Simulator.Listen = DefaultSimulatorListen
	}

	if settings.Simulator.StateFile == "" {
		settings.Simulator.StateFile = DefaultStateFilename
	}

	return nil
}

// PriorityFor returns the effective write priority of a device.
func (c *Config) PriorityFor(device *DeviceConfig) int {
	if device.Priority != 0 {
		return device.Priority
	}

	return c.Event.Priority
}

// validateGateway checks the gateway address and fills the timeout default.
func validateGateway(gw *GatewayConfig) error {
	if gw.Timeout <= 0 {
		gw.Timeout = DefaultTimeout
	}

	if gw.DiscoveryTimeout <= 0 {
		gw.DiscoveryTimeout = DefaultDiscoveryTimeout
	}

	switch gw.Address {
	case "":
		return errGatewayRequired
	case AddressDiscover, AddressInProcess:
		return nil
	}

	if _, err := net.ResolveTCPAddr("tcp", gw.Address); err != nil {
		return fmt.Errorf("invalid gateway address: %w", err)
	}

	return nil
}

// validateEvent checks timing values and fills cadence defaults.
func validateEvent(event *EventConfig) error {
	if event.Duration <= 0 {
		return errDurationRequired
	}

	if event.Priority == 0 {
		event.Priority = DefaultPriority
	}

	if event.Priority < minPriority || event.Priority > maxPriority {
		return fmt.Errorf("%w: event priority %d", errInvalidPriority, event.Priority)
	}

	if event.PollInterval <= 0 {
		event.PollInterval = DefaultPollInterval
	}

	if event.EvaluateInterval <= 0 {
		event.EvaluateInterval = DefaultEvaluateInterval
	}

	if event.ExpiryInterval <= 0 {
		event.ExpiryInterval = DefaultExpiryInterval
	}

	if event.CallTimeout <= 0 {
		event.CallTimeout = DefaultTimeout
	}

	return nil
}

// validatePolicy checks the policy kind and kind-specific settings.
func validatePolicy(policy *PolicyConfig) error {
	switch policy.Kind {
	case "":
		policy.Kind = PolicySetpoint
	case PolicySetpoint, PolicyStaged, PolicyStepped:
	default:
		return fmt.Errorf("%w: %q", errUnknownPolicy, policy.Kind)
	}

	if policy.Kind == PolicyStaged && len(policy.Staged.Table) == 0 {
		// Force off the two highest stages at three active, the highest at four.
		policy.Staged.Table = map[int][]string{
			3: {"stage-3", "stage-4"},
			4: {"stage-4"},
		}
	}

	if policy.Kind == PolicyStepped && len(policy.Stepped.Steps) == 0 {
		return fmt.Errorf("%w: stepped policy needs at least one step", errUnknownPolicy)
	}

	return nil
}

// validateDevice checks one registry entry.
func validateDevice(device *DeviceConfig) error {
	if device.Name == "" {
		return fmt.Errorf("%w: name is required", errInvalidDevice)
	}

	if device.Address == "" {
		return fmt.Errorf("%w: %s: address is required", errInvalidDevice, device.Name)
	}

	if len(device.Points) == 0 {
		return fmt.Errorf("%w: %s: at least one point is required", errInvalidDevice, device.Name)
	}

	if device.Priority != 0 && (device.Priority < minPriority || device.Priority > maxPriority) {
		return fmt.Errorf("%w: device %s priority %d", errInvalidPriority, device.Name, device.Priority)
	}

	return nil
}
