package shed

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the caller-visible outcome of a run.
type Status uint8

const (
	// StatusIncomplete means the run never reached Finalized.
	StatusIncomplete Status = iota
	// StatusCompleted means every release succeeded.
	StatusCompleted
	// StatusCompletedWithFailures means some releases failed and need manual clearing.
	StatusCompletedWithFailures
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCompletedWithFailures:
		return "completed_with_failures"
	default:
		return "incomplete"
	}
}

// Operation names a gateway call in device errors and the journal.
type Operation string

// Gateway operations.
const (
	OpRead     Operation = "read"
	OpWrite    Operation = "write"
	OpRelease  Operation = "release"
	OpShutdown Operation = "shutdown"
)

// DeviceError records one failed gateway call.
type DeviceError struct {
	// Point is the point the call targeted.
	Point PointRef
	// Op is the failed operation.
	Op Operation
	// Err is the failure.
	Err error
}

// Error implements error.
func (e DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Point, e.Err)
}

// Unwrap returns the underlying failure.
func (e DeviceError) Unwrap() error {
	return e.Err
}

// Report summarises one orchestration run.
type Report struct {
	// EventID identifies the event.
	EventID uuid.UUID
	// Policy is the evaluation policy name.
	Policy string
	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time
	FinishedAt time.Time
	// Aborted is set when the caller cancelled the run before the duration elapsed.
	Aborted bool
	// Finalized is set once releases and shutdown were attempted.
	Finalized bool

	// Applied counts overrides written during Starting and Monitoring.
	Applied int
	// EarlyReleases counts overrides released by the policy before expiry.
	EarlyReleases int
	// FinalReleases counts overrides released during finalization.
	FinalReleases int

	// ReadErrors, WriteErrors and ReleaseFailures list per-device failures.
	ReadErrors      []DeviceError
	WriteErrors     []DeviceError
	ReleaseFailures []DeviceError
	// ShutdownErr is the gateway shutdown failure, if any.
	ShutdownErr error
}

// Status derives the outcome from the report.
func (r *Report) Status() Status {
	switch {
	case r == nil || !r.Finalized:
		return StatusIncomplete
	case len(r.ReleaseFailures) > 0:
		return StatusCompletedWithFailures
	default:
		return StatusCompleted
	}
}

// Summary renders a one-line description, listing every point whose release failed.
func (r *Report) Summary() string {
	status := r.Status()
	if status != StatusCompletedWithFailures {
		return fmt.Sprintf("event %s %s: %d applied, %d released early, %d released at end",
			r.EventID, status, r.Applied, r.EarlyReleases, r.FinalReleases)
	}

	stuck := make([]string, 0, len(r.ReleaseFailures))
	for _, f := range r.ReleaseFailures {
		stuck = append(stuck, f.Point.String())
	}

	return fmt.Sprintf("event %s %s: %d release failures, clear manually: %s",
		r.EventID, status, len(r.ReleaseFailures), strings.Join(stuck, ", "))
}
