package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway"
	"github.com/oshokin/loadshed/internal/journal"
	"github.com/oshokin/loadshed/internal/logger"
	"github.com/oshokin/loadshed/internal/registry"
	"github.com/oshokin/loadshed/internal/service/common"
)

// Options configures a release run.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// JournalPath overrides the configured journal file.
	JournalPath string
	// EventID limits the release to one event; empty means every event.
	EventID string
	// LogLevel overrides the configured log level.
	LogLevel string
}

var (
	// ErrNoJournal is returned when no journal path is configured.
	ErrNoJournal = errors.New("journal path is not configured")
	// ErrStillHeld is returned when some overrides could not be released.
	ErrStillHeld = errors.New("overrides still held")
)

// Result is the outcome of releasing the held overrides of one event.
type Result struct {
	// EventID identifies the event.
	EventID string
	// Released lists points released now.
	Released []shed.PointRef
	// Failures lists points that are still held.
	Failures []shed.DeviceError
}

// Run replays the journal and releases everything it shows as still held.
// It refuses to run next to another loadshed process, whose live event would
// look unfinished in the journal.
func Run(ctx context.Context, opts *Options) error {
	return run(ctx, opts, common.CheckSingleInstance)
}

// run is Run with the single-instance check injected.
//
//nolint:cyclop,funlen // Wiring of every collaborator happens here.
func run(ctx context.Context, opts *Options, checkInstance func() error) error {
	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.JournalPath != "" {
		cfg.Journal.Path = opts.JournalPath
	}

	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	if err = logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "loadshed-release")

	if cfg.Journal.Path == "" {
		return ErrNoJournal
	}

	// A running event has no finish record yet; releasing it would undo a live shed.
	if err = checkInstance(); err != nil {
		return err
	}

	summaries, truncated, err := journal.ReplayFile(cfg.Journal.Path)
	if err != nil {
		return err
	}

	if truncated {
		logger.WarnKV(ctx, "Journal ends with a partial record", "path", cfg.Journal.Path)
	}

	pending := Pending(summaries, opts.EventID)
	if len(pending) == 0 {
		logger.Info(ctx, "Nothing to release")

		return nil
	}

	reg, err := registry.FromConfig(cfg)
	if err != nil {
		return err
	}

	gw, closeGateway, err := common.Connect(ctx, cfg, reg)
	if err != nil {
		return err
	}

	defer closeGateway()

	file, err := journal.Open(cfg.Journal.Path, journal.WithErrorHandler(func(err error) {
		logger.ErrorKV(ctx, "Journal write failed", "error", err)
	}))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close() //nolint:errcheck // Records are flushed per write.
	}()

	var stuck int

	for _, s := range pending {
		result := Release(ctx, gw, file, s, cfg.Event.CallTimeout)
		stuck += len(result.Failures)
	}

	// Same contract as an event: one shutdown after the last release.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Event.CallTimeout)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.ErrorKV(ctx, "Gateway shutdown failed", "error", err)
	}

	if stuck > 0 {
		return fmt.Errorf("%w: %d", ErrStillHeld, stuck)
	}

	return nil
}

// Pending returns the summaries with held overrides, limited to eventID when
// it is set.
func Pending(summaries []*journal.Summary, eventID string) []*journal.Summary {
	var out []*journal.Summary

	for _, s := range summaries {
		if eventID != "" && s.EventID != eventID {
			continue
		}

		if s.NeedsRelease() {
			out = append(out, s)
		}
	}

	return out
}

// Release releases every held override of one event at the priority it was written with
// and journals each success under the event's ID. Once nothing is left held
// the event is journaled as finished. Cancellation is observed between points.
func Release(
	ctx context.Context,
	gw gateway.Gateway,
	recorder journal.Recorder,
	summary *journal.Summary,
	timeout time.Duration,
) *Result {
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	ctx = logger.WithKV(ctx, "event_id", summary.EventID)
	result := &Result{EventID: summary.EventID}

	logger.InfoKV(ctx, "Releasing overrides left by event",
		"held", len(summary.Held),
		"status", summary.Status,
		"started_at", summary.StartedAt.Format(time.RFC3339),
	)

	for i, held := range summary.Held {
		if ctx.Err() != nil {
			for _, rest := range summary.Held[i:] {
				result.Failures = append(result.Failures,
					shed.DeviceError{Point: rest.Point, Op: shed.OpRelease, Err: ctx.Err()})
			}

			break
		}

		err := releaseOne(ctx, gw, held, timeout)
		if err != nil {
			logger.ErrorKV(ctx, "Release failed", "point", held.Point.String(), "error", err)

			recorder.Record(journal.Record{
				Timestamp: time.Now(),
				EventID:   summary.EventID,
				Kind:      journal.KindFailure,
				Op:        string(shed.OpRelease),
				Error:     err.Error(),
			}.WithPoint(held.Point))

			result.Failures = append(result.Failures, shed.DeviceError{Point: held.Point, Op: shed.OpRelease, Err: err})

			continue
		}

		recorder.Record(journal.Record{
			Timestamp: time.Now(),
			EventID:   summary.EventID,
			Kind:      journal.KindRelease,
			Priority:  held.Priority,
		}.WithPoint(held.Point))

		result.Released = append(result.Released, held.Point)

		logger.InfoKV(ctx, "Point released", "point", held.Point.String(), "priority", held.Priority)
	}

	status := shed.StatusCompleted
	if len(result.Failures) > 0 {
		status = shed.StatusCompletedWithFailures
	}

	recorder.Record(journal.Record{
		Timestamp: time.Now(),
		EventID:   summary.EventID,
		Kind:      journal.KindEventFinished,
		Status:    status.String(),
		Reason:    "released from journal",
	})

	return result
}

// releaseOne issues one bounded release detached from cancellation.
func releaseOne(ctx context.Context, gw gateway.Gateway, held journal.Held, timeout time.Duration) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	return gw.Release(callCtx, held.Point, held.Priority)
}
