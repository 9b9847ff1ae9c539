package shed

import "fmt"

// ActionKind is what a policy asks the orchestrator to do with a point.
type ActionKind uint8

const (
	// ActionOverride writes Value to the point at the device priority.
	ActionOverride ActionKind = iota + 1
	// ActionRelease clears the override at the device priority.
	ActionRelease
)

// String returns a human-readable action name.
func (k ActionKind) String() string {
	switch k {
	case ActionOverride:
		return "override"
	case ActionRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Action is a single policy decision for one point.
type Action struct {
	// Device is the registry name of the target device.
	Device string
	// Role is the target point role.
	Role Role
	// Kind selects override or release.
	Kind ActionKind
	// Value is written for overrides and ignored for releases.
	Value Value
	// Reason explains the decision in logs and the journal.
	Reason string
}

// Key returns the ledger key the action targets.
func (a Action) Key() Key {
	return Key{Device: a.Device, Role: a.Role}
}

// String renders the action for logs.
func (a Action) String() string {
	if a.Kind == ActionOverride {
		return fmt.Sprintf("%s %s/%s=%s", a.Kind, a.Device, a.Role, a.Value)
	}

	return fmt.Sprintf("%s %s/%s", a.Kind, a.Device, a.Role)
}
