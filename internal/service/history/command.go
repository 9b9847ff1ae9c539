package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/journal"
	"github.com/oshokin/loadshed/internal/logger"
)

// Options configures the history listing.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// JournalPath overrides the configured journal file.
	JournalPath string
	// EventID prints every record of this event after the summary table.
	EventID string
	// Device limits the record listing to one device.
	Device string
	// Output receives the listing; stdout when nil.
	Output io.Writer
}

// ErrNoJournal is returned when no journal path is configured.
var ErrNoJournal = errors.New("journal path is not configured")

// Run prints the journal history.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "loadshed-history")

	path := opts.JournalPath
	if path == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}

		path = cfg.Journal.Path
	}

	if path == "" {
		return ErrNoJournal
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	summaries, truncated, err := journal.ReplayFile(path)
	if err != nil {
		return err
	}

	if truncated {
		logger.WarnKV(ctx, "Journal ends with a partial record", "path", path)
	}

	if err = WriteSummaries(out, summaries); err != nil {
		return err
	}

	if opts.EventID == "" {
		return nil
	}

	reader, err := journal.NewFilteredReader(path, journal.Filter{EventID: opts.EventID, Device: opts.Device})
	if err != nil {
		return err
	}

	defer func() {
		_ = reader.Close()
	}()

	records, err := reader.All()
	if err != nil && !errors.Is(err, journal.ErrTruncated) {
		return err
	}

	return WriteRecords(out, records)
}

// WriteSummaries renders one row per event.
func WriteSummaries(w io.Writer, summaries []*journal.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0) //nolint:mnd // Column padding.

	fmt.Fprintln(tw, "EVENT\tSTARTED\tPOLICY\tACTOR\tSTATUS\tOVERRIDES\tRELEASES\tFAILURES\tHELD")

	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.EventID,
			formatTime(s.StartedAt),
			dash(s.Policy),
			dash(s.Actor),
			s.Status,
			s.Overrides,
			s.Releases,
			s.Failures,
			heldPoints(s),
		)
	}

	return tw.Flush()
}

// WriteRecords renders one row per journal record.
func WriteRecords(w io.Writer, records []journal.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0) //nolint:mnd // Column padding.

	fmt.Fprintln(tw, "\nTIME\tKIND\tPOINT\tDETAIL")

	for i := range records {
		rec := &records[i]

		point := "-"
		if rec.Device != "" {
			point = rec.Device + "/" + rec.Role
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTime(rec.Timestamp), rec.Kind, point, detail(rec))
	}

	return tw.Flush()
}

// detail picks the fields that matter for the record kind.
func detail(rec *journal.Record) string {
	switch rec.Kind {
	case journal.KindEventStarted:
		return fmt.Sprintf("policy=%s actor=%s duration=%s", rec.Policy, rec.Actor, rec.Duration)
	case journal.KindState:
		return rec.State
	case journal.KindDecision:
		return rec.Reason
	case journal.KindOverride:
		return fmt.Sprintf("value=%s priority=%d", rec.Value, rec.Priority)
	case journal.KindRelease:
		return fmt.Sprintf("priority=%d", rec.Priority)
	case journal.KindFailure:
		return rec.Op + ": " + rec.Error
	case journal.KindEventFinished:
		return rec.Status
	default:
		return ""
	}
}

// heldPoints lists the points an event left overridden.
func heldPoints(s *journal.Summary) string {
	if !s.NeedsRelease() {
		return "-"
	}

	points := make([]string, 0, len(s.Held))
	for _, h := range s.Held {
		points = append(points, h.Point.Device+"/"+string(h.Point.Role))
	}

	return strings.Join(points, ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format(time.DateTime)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
