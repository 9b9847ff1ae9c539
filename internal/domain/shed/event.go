package shed

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an orchestration run.
type State uint8

const (
	// StateIdle is the state before Run is invoked.
	StateIdle State = iota
	// StateStarting applies the initial overrides.
	StateStarting
	// StateMonitoring runs poll, evaluate and check-expiry cycles.
	StateMonitoring
	// StateExpiring stops monitoring after the event ended or was aborted.
	StateExpiring
	// StateFinalized has released every held override and shut the gateway down.
	StateFinalized
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateMonitoring:
		return "MONITORING"
	case StateExpiring:
		return "EXPIRING"
	case StateFinalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// Event is the single load-shed event of one orchestration run.
// Its flags only ever move from false to true.
type Event struct {
	// ID identifies the event in logs and the journal.
	ID uuid.UUID
	// Start is when the event clock started.
	Start time.Time
	// Duration is the configured event length.
	Duration time.Duration

	// expired is set the first time expiry (or abort) is detected.
	expired atomic.Bool
	// terminated is set when finalization starts.
	terminated atomic.Bool
}

// NewEvent creates an event with a fresh ID.
func NewEvent(start time.Time, duration time.Duration) *Event {
	return &Event{
		ID:       uuid.New(),
		Start:    start,
		Duration: duration,
	}
}

// MarkExpired sets the expired flag and reports whether this call set it.
func (e *Event) MarkExpired() bool {
	return e.expired.CompareAndSwap(false, true)
}

// Expired reports whether the event has expired or was aborted.
func (e *Event) Expired() bool {
	return e.expired.Load()
}

// MarkTerminated sets the terminated flag and reports whether this call set it.
func (e *Event) MarkTerminated() bool {
	return e.terminated.CompareAndSwap(false, true)
}

// Terminated reports whether finalization has run.
func (e *Event) Terminated() bool {
	return e.terminated.Load()
}
