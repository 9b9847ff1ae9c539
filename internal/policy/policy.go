package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/ledger"
	"github.com/oshokin/loadshed/internal/registry"
)

// ErrUnknownPolicy is returned by New for unsupported kinds.
var ErrUnknownPolicy = errors.New("unknown policy")

// Input is everything a policy may look at.
type Input struct {
	// Registry lists the devices of the event.
	Registry *registry.Registry
	// Readings is the latest committed snapshot; nil before the first poll.
	Readings *shed.Readings
	// Ledger is the read-only view of held overrides.
	Ledger ledger.View
	// Elapsed is the time since the event started.
	Elapsed time.Duration
}

// Policy decides which points to override and release.
type Policy interface {
	// Name identifies the policy in logs and the journal.
	Name() string
	// Inputs lists the roles of d that must be read before Plan and on every poll.
	Inputs(d *shed.Device) []shed.Role
	// Plan returns the initial overrides applied while the event starts.
	Plan(in Input) []shed.Action
	// Decide returns the actions of one monitoring evaluation.
	Decide(in Input) []shed.Action
}

// Escalating is implemented by policies whose Decide may add overrides while
// nothing is held. Other policies only release, so the orchestrator skips
// evaluation once the ledger is empty.
type Escalating interface {
	Escalates() bool
}

// NeedsEvaluation reports whether Decide can produce work given how many
// overrides are held.
func NeedsEvaluation(p Policy, held int) bool {
	if held > 0 {
		return true
	}

	e, ok := p.(Escalating)

	return ok && e.Escalates()
}

// New builds the policy selected by cfg.
func New(cfg config.PolicyConfig) (Policy, error) {
	switch cfg.Kind {
	case config.PolicySetpoint, "":
		return NewSetpoint(cfg.Setpoint), nil
	case config.PolicyStaged:
		return NewStaged(cfg.Staged), nil
	case config.PolicyStepped:
		return NewStepped(cfg.Stepped), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, cfg.Kind)
	}
}

// forceOff returns an override action writing inactive to a stage output.
func forceOff(device string, role shed.Role, reason string) shed.Action {
	return shed.Action{
		Device: device,
		Role:   role,
		Kind:   shed.ActionOverride,
		Value:  shed.Inactive(),
		Reason: reason,
	}
}

// toRoles converts configured role names.
func toRoles(names []string) []shed.Role {
	roles := make([]shed.Role, 0, len(names))
	for _, n := range names {
		roles = append(roles, shed.Role(n))
	}

	return roles
}
