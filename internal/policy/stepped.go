package policy

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
)

// step is one escalation of the stepped policy.
type step struct {
	after time.Duration
	roles []shed.Role
}

// Stepped forces more stages off as the event goes on.
type Stepped struct {
	steps []step
}

// NewStepped builds the time-stepped policy.
func NewStepped(cfg config.SteppedPolicyConfig) *Stepped {
	steps := make([]step, 0, len(cfg.Steps))
	for _, s := range cfg.Steps {
		steps = append(steps, step{after: s.After, roles: toRoles(s.ForceOff)})
	}

	slices.SortStableFunc(steps, func(a, b step) int {
		return cmp.Compare(a.after, b.after)
	})

	return &Stepped{steps: steps}
}

// Name implements Policy.
func (*Stepped) Name() string {
	return config.PolicyStepped
}

// Escalates implements Escalating.
func (*Stepped) Escalates() bool {
	return true
}

// Inputs implements Policy. The schedule needs no readings.
func (*Stepped) Inputs(*shed.Device) []shed.Role {
	return nil
}

// Plan implements Policy.
func (p *Stepped) Plan(in Input) []shed.Action {
	return p.Decide(in)
}

// Decide implements Policy. Every stage of every due step that is not held yet
// is forced off.
func (p *Stepped) Decide(in Input) []shed.Action {
	var (
		actions []shed.Action
		seen    = make(map[shed.Key]struct{})
	)

	for i, s := range p.steps {
		if s.after > in.Elapsed {
			break
		}

		for _, d := range in.Registry.Devices() {
			for _, role := range s.roles {
				key := shed.Key{Device: d.Name, Role: role}
				if _, dup := seen[key]; dup {
					continue
				}

				seen[key] = struct{}{}

				if _, exists := d.Points[role]; !exists {
					continue
				}

				if in.Ledger != nil && in.Ledger.Has(d.Name, role) {
					continue
				}

				actions = append(actions, forceOff(d.Name, role, fmt.Sprintf("step %d after %s", i+1, s.after)))
			}
		}
	}

	return actions
}
