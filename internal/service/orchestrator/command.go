package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/journal"
	"github.com/oshokin/loadshed/internal/logger"
	"github.com/oshokin/loadshed/internal/metrics"
	"github.com/oshokin/loadshed/internal/policy"
	"github.com/oshokin/loadshed/internal/registry"
	"github.com/oshokin/loadshed/internal/service/common"
)

// Options configures one loadshed run.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// Duration overrides the configured event duration when positive.
	Duration time.Duration
	// DryRun runs against the in-process simulator instead of the gateway.
	DryRun bool
	// StartAt delays Starting until this time when it lies in the future.
	StartAt time.Time
	// Force starts even though the journal shows overrides of an earlier
	// event that were never released.
	Force bool
	// JournalPath overrides the configured journal file.
	JournalPath string
	// MetricsAddress overrides the configured metrics listen address.
	MetricsAddress string
	// LogLevel overrides the configured log level.
	LogLevel string
}

var (
	// ErrReleaseFailures is returned when the event finished with points that
	// could not be released.
	ErrReleaseFailures = errors.New("event finished with release failures")
	// ErrPendingRelease is returned when an earlier event left overrides behind.
	ErrPendingRelease = errors.New("earlier event left overrides held, run loadshed release or pass --force")
)

// Run loads the configuration, connects to the gateway and runs one event.
//
//nolint:cyclop,funlen // Wiring of every collaborator happens here.
func Run(ctx context.Context, opts *Options) error {
	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	applyOverrides(cfg, opts)

	if err = logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "loadshed")

	// Two events against the same devices would fight over the priority arrays.
	if err = common.CheckSingleInstance(); err != nil {
		return err
	}

	reg, err := registry.FromConfig(cfg)
	if err != nil {
		return err
	}

	pol, err := policy.New(cfg.Policy)
	if err != nil {
		return err
	}

	// Identify current user and hostname for the journal.
	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Cannot identify operator", "error", err)
	}

	recorder, closeJournal, err := openJournal(ctx, cfg.Journal.Path, opts.Force)
	if err != nil {
		return err
	}

	defer closeJournal()

	var eventMetrics *metrics.Event

	if cfg.Metrics.Address != "" {
		promRegistry := metrics.NewRegistry()

		// The endpoint lives as long as the run.
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()

		if _, err = metrics.Serve(metricsCtx, cfg.Metrics.Address, promRegistry); err != nil {
			return err
		}

		eventMetrics = metrics.NewEvent(promRegistry)
	}

	// Nothing is held yet, so cancellation while waiting simply exits.
	if err = waitUntil(ctx, opts.StartAt); err != nil {
		return err
	}

	// Acquire the gateway session; Finalized releases it.
	gw, closeGateway, err := common.Connect(ctx, cfg, reg)
	if err != nil {
		return err
	}

	defer closeGateway()

	o, err := New(SettingsFromConfig(&cfg.Event), reg, gw, pol,
		WithJournal(recorder),
		WithMetrics(eventMetrics),
		WithActor(actor),
	)
	if err != nil {
		return err
	}

	report, err := o.Run(ctx)
	if err != nil {
		return err
	}

	for _, f := range report.ReleaseFailures {
		logger.ErrorKV(ctx, "Point left overridden", "point", f.Point.String(), "error", f.Err)
	}

	if len(report.ReleaseFailures) > 0 {
		return fmt.Errorf("%w: %s", ErrReleaseFailures, report.Summary())
	}

	return nil
}

// applyOverrides copies command line overrides into cfg.
func applyOverrides(cfg *config.Config, opts *Options) {
	if opts.Duration > 0 {
		cfg.Event.Duration = opts.Duration
	}

	if opts.DryRun {
		cfg.Gateway.Address = config.AddressInProcess
	}

	if opts.JournalPath != "" {
		cfg.Journal.Path = opts.JournalPath
	}

	if opts.MetricsAddress != "" {
		cfg.Metrics.Address = opts.MetricsAddress
	}

	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
}

// openJournal opens the journal file, refusing to start over overrides an
// earlier event never released unless force is set. An empty path disables
// journaling.
func openJournal(ctx context.Context, path string, force bool) (journal.Recorder, func(), error) {
	if path == "" {
		return journal.Noop{}, func() {}, nil
	}

	summaries, truncated, err := journal.ReplayFile(path)

	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, nil, err
	}

	if truncated {
		logger.WarnKV(ctx, "Journal ends with a partial record", "path", path)
	}

	for _, s := range summaries {
		if !s.NeedsRelease() {
			continue
		}

		logger.WarnKV(ctx, "Earlier event left overrides held",
			"event_id", s.EventID,
			"held", len(s.Held),
			"status", s.Status,
		)

		if !force {
			return nil, nil, ErrPendingRelease
		}
	}

	file, err := journal.Open(path, journal.WithErrorHandler(func(err error) {
		logger.ErrorKV(ctx, "Journal write failed", "error", err)
	}))
	if err != nil {
		return nil, nil, err
	}

	return file, func() {
		if err := file.Sync(); err != nil {
			logger.WarnKV(ctx, "Journal sync failed", "error", err)
		}

		_ = file.Close() //nolint:errcheck // Synced above.
	}, nil
}

// waitUntil blocks until at, or returns early when ctx is done.
func waitUntil(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		return nil
	}

	delay := time.Until(at)
	if delay <= 0 {
		return nil
	}

	logger.InfoKV(ctx, "Waiting for event start", "start_at", at.Format(time.RFC3339), "delay", delay.Round(time.Second))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errInvalidStartAt is returned by ParseStartAt for unsupported input.
var errInvalidStartAt = errors.New("start time must be HH:MM or RFC 3339")

// ParseStartAt parses a start time given as RFC 3339 or as a local HH:MM
// clock time. A clock time already past today means tomorrow.
func ParseStartAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	clock, err := time.ParseInLocation("15:04", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errInvalidStartAt, s)
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}

	return at, nil
}
