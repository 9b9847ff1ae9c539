package journal

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oshokin/loadshed/internal/domain/shed"
)

// Held is an override the journal shows as never released.
type Held struct {
	// Point is the overridden point.
	Point shed.PointRef
	// Value is the written value in controller text form.
	Value string
	// Priority is the priority-array level.
	Priority int
	// AppliedAt is when the override was acknowledged.
	AppliedAt time.Time
}

// Summary is the replayed outcome of one event.
type Summary struct {
	// EventID identifies the event.
	EventID string
	// Policy is the evaluation policy.
	Policy string
	// Actor is who started the event.
	Actor string
	// StartedAt and FinishedAt bound the event; FinishedAt is zero if it never finished.
	StartedAt  time.Time
	FinishedAt time.Time
	// Duration is the configured event length.
	Duration time.Duration
	// LastState is the last lifecycle state recorded.
	LastState string
	// Status is the final status, or "incomplete" if the event never finished.
	Status string
	// Overrides and Releases count acknowledged writes and releases.
	Overrides int
	Releases  int
	// Failures counts failed gateway calls.
	Failures int
	// Held lists overrides without a later release, ordered by device and role.
	Held []Held
}

// NeedsRelease reports whether points are still held by this event.
func (s *Summary) NeedsRelease() bool {
	return len(s.Held) > 0
}

// Replay folds records into one summary per event, in order of first appearance.
func Replay(records []Record) []*Summary {
	var (
		order     []string
		summaries = make(map[string]*Summary)
		held      = make(map[string]map[shed.Key]Held)
	)

	for i := range records {
		rec := &records[i]

		s, ok := summaries[rec.EventID]
		if !ok {
			s = &Summary{EventID: rec.EventID, Status: shed.StatusIncomplete.String()}
			summaries[rec.EventID] = s
			held[rec.EventID] = make(map[shed.Key]Held)
			order = append(order, rec.EventID)
		}

		applyRecord(s, held[rec.EventID], rec)
	}

	out := make([]*Summary, 0, len(order))

	for _, id := range order {
		s := summaries[id]

		for _, h := range held[id] {
			s.Held = append(s.Held, h)
		}

		slices.SortFunc(s.Held, func(a, b Held) int {
			return compareKeys(a.Point, b.Point)
		})

		out = append(out, s)
	}

	return out
}

// applyRecord folds one record into the summary.
func applyRecord(s *Summary, held map[shed.Key]Held, rec *Record) {
	key := shed.Key{Device: rec.Device, Role: shed.Role(rec.Role)}

	switch rec.Kind {
	case KindEventStarted:
		s.StartedAt = rec.Timestamp
		s.Policy = rec.Policy
		s.Actor = rec.Actor
		s.Duration = rec.Duration
	case KindState:
		s.LastState = rec.State
	case KindOverride:
		s.Overrides++
		held[key] = Held{
			Point:     rec.PointRef(),
			Value:     rec.Value,
			Priority:  rec.Priority,
			AppliedAt: rec.Timestamp,
		}
	case KindRelease:
		s.Releases++

		delete(held, key)
	case KindFailure:
		s.Failures++
	case KindEventFinished:
		s.FinishedAt = rec.Timestamp
		s.Status = rec.Status
	case KindDecision:
	}
}

// compareKeys orders points by device then role.
func compareKeys(a, b shed.PointRef) int {
	switch {
	case a.Device < b.Device:
		return -1
	case a.Device > b.Device:
		return 1
	case a.Role < b.Role:
		return -1
	case a.Role > b.Role:
		return 1
	default:
		return 0
	}
}

// ReplayFile reads the journal at path and replays it. A truncated tail is
// tolerated; the returned truncated flag tells the caller it happened.
func ReplayFile(path string) (summaries []*Summary, truncated bool, err error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, false, err
	}

	defer func() {
		_ = r.Close()
	}()

	records, err := r.All()

	switch {
	case errors.Is(err, ErrTruncated):
		truncated = true
	case err != nil:
		return nil, false, fmt.Errorf("read journal: %w", err)
	}

	return Replay(records), truncated, nil
}
