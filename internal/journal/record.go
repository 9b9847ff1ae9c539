package journal

import (
	"slices"
	"sync"
	"time"

	"github.com/oshokin/loadshed/internal/domain/shed"
)

// Kind distinguishes journal records.
type Kind uint8

const (
	// KindEventStarted opens an event.
	KindEventStarted Kind = iota + 1
	// KindState records a lifecycle transition.
	KindState
	// KindDecision records a policy action before it is performed.
	KindDecision
	// KindOverride records an acknowledged write.
	KindOverride
	// KindRelease records an acknowledged release.
	KindRelease
	// KindFailure records a failed gateway call.
	KindFailure
	// KindEventFinished closes an event with its final status.
	KindEventFinished
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindEventStarted:
		return "EVENT_STARTED"
	case KindState:
		return "STATE"
	case KindDecision:
		return "DECISION"
	case KindOverride:
		return "OVERRIDE"
	case KindRelease:
		return "RELEASE"
	case KindFailure:
		return "FAILURE"
	case KindEventFinished:
		return "EVENT_FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Record is one journal entry. Fields not relevant to the Kind are empty.
type Record struct {
	// Timestamp is when the record was produced.
	Timestamp time.Time `cbor:"1,keyasint"`
	// EventID identifies the event.
	EventID string `cbor:"2,keyasint"`
	// Kind selects the record type.
	Kind Kind `cbor:"3,keyasint"`

	// State is the lifecycle state entered (KindState).
	State string `cbor:"4,keyasint,omitempty"`

	// Device, Role, Address and Point identify the point.
	Device  string `cbor:"5,keyasint,omitempty"`
	Role    string `cbor:"6,keyasint,omitempty"`
	Address string `cbor:"7,keyasint,omitempty"`
	Point   string `cbor:"8,keyasint,omitempty"`

	// Value is the written value in controller text form.
	Value string `cbor:"9,keyasint,omitempty"`
	// Priority is the priority-array level.
	Priority int `cbor:"10,keyasint,omitempty"`
	// Op is the gateway operation of a failure.
	Op string `cbor:"11,keyasint,omitempty"`
	// Reason explains a decision.
	Reason string `cbor:"12,keyasint,omitempty"`
	// Error is the failure text.
	Error string `cbor:"13,keyasint,omitempty"`

	// Policy is the evaluation policy (KindEventStarted).
	Policy string `cbor:"14,keyasint,omitempty"`
	// Actor is user@host of whoever started the event (KindEventStarted).
	Actor string `cbor:"15,keyasint,omitempty"`
	// Duration is the configured event length (KindEventStarted).
	Duration time.Duration `cbor:"16,keyasint,omitempty"`
	// Status is the final status (KindEventFinished).
	Status string `cbor:"17,keyasint,omitempty"`
}

// PointRef returns the point the record refers to.
func (r *Record) PointRef() shed.PointRef {
	return shed.PointRef{
		Device:  r.Device,
		Role:    shed.Role(r.Role),
		Address: r.Address,
		Point:   r.Point,
	}
}

// WithPoint copies the point fields into the record and returns it.
func (r Record) WithPoint(p shed.PointRef) Record {
	r.Device = p.Device
	r.Role = string(p.Role)
	r.Address = p.Address
	r.Point = p.Point

	return r
}

// Recorder receives journal records.
type Recorder interface {
	Record(rec Record)
}

// Noop discards every record.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(Record) {}

// Memory keeps records in memory; used by tests and dry runs.
// It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// Record implements Recorder.
func (m *Memory) Record(rec Record) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}

// Records returns a copy of the collected records.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.records)
}
