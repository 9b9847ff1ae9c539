package shed

import "time"

// Reading is the outcome of one read of one point.
type Reading struct {
	// Point is the point that was read.
	Point PointRef
	// Value is the present value when Err is nil.
	Value Value
	// Err is the read failure, if any.
	Err error
	// At is when the read completed.
	At time.Time
}

// OK reports whether the reading carries a usable value.
func (r Reading) OK() bool {
	return r.Err == nil && !r.Value.IsZero()
}

// Readings is an immutable snapshot of the latest reading per point.
// A nil *Readings behaves as an empty snapshot.
type Readings struct {
	// at is when the snapshot was committed.
	at time.Time
	// values holds the readings keyed by device and role.
	values map[Key]Reading
}

// NewReadings commits the given readings into a snapshot.
// Later entries for the same key win.
func NewReadings(at time.Time, readings []Reading) *Readings {
	values := make(map[Key]Reading, len(readings))
	for _, r := range readings {
		values[Key{Device: r.Point.Device, Role: r.Point.Role}] = r
	}

	return &Readings{at: at, values: values}
}

// At returns the commit time of the snapshot.
func (r *Readings) At() time.Time {
	if r == nil {
		return time.Time{}
	}

	return r.at
}

// Get returns the reading for a point.
func (r *Readings) Get(device string, role Role) (Reading, bool) {
	if r == nil {
		return Reading{}, false
	}

	reading, ok := r.values[Key{Device: device, Role: role}]

	return reading, ok
}

// Value returns the present value for a point when the latest read succeeded.
func (r *Readings) Value(device string, role Role) (Value, bool) {
	reading, ok := r.Get(device, role)
	if !ok || !reading.OK() {
		return Value{}, false
	}

	return reading.Value, true
}

// Len returns the number of points in the snapshot.
func (r *Readings) Len() int {
	if r == nil {
		return 0
	}

	return len(r.values)
}
