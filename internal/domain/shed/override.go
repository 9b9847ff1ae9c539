package shed

import "time"

// Key identifies a held point: one device and one role.
type Key struct {
	// Device is the registry name.
	Device string
	// Role is the point role on that device.
	Role Role
}

// Override is a value held on a point at a write priority until released.
type Override struct {
	// Point is the overridden point.
	Point PointRef
	// Value is what was written (Inactive for stage outputs forced off).
	Value Value
	// Priority is the priority-array level the value was written at.
	Priority int
	// AppliedAt is when the write was acknowledged.
	AppliedAt time.Time
}

// Key returns the ledger key of the override.
func (o *Override) Key() Key {
	return Key{Device: o.Point.Device, Role: o.Point.Role}
}

// Clone returns a copy of the override.
func (o *Override) Clone() *Override {
	if o == nil {
		return nil
	}

	cloned := *o

	return &cloned
}
