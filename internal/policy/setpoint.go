package policy

import (
	"fmt"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
)

// Setpoint overrides each device's setpoint for the whole event.
type Setpoint struct {
	adjustment   float64
	fixed        *float64
	releaseAbove *float64
}

// NewSetpoint builds the setpoint policy.
func NewSetpoint(cfg config.SetpointPolicyConfig) *Setpoint {
	return &Setpoint{
		adjustment:   cfg.Adjustment,
		fixed:        cfg.Fixed,
		releaseAbove: cfg.ReleaseAbove,
	}
}

// Name implements Policy.
func (*Setpoint) Name() string {
	return config.PolicySetpoint
}

// Inputs implements Policy. Only the sensor is read.
func (*Setpoint) Inputs(d *shed.Device) []shed.Role {
	if _, ok := d.Points[shed.RoleSensor]; !ok {
		return nil
	}

	return []shed.Role{shed.RoleSensor}
}

// Plan implements Policy.
func (p *Setpoint) Plan(in Input) []shed.Action {
	var actions []shed.Action

	for _, d := range in.Registry.Devices() {
		if _, ok := d.Points[shed.RoleSetpoint]; !ok {
			continue
		}

		if in.Ledger != nil && in.Ledger.Has(d.Name, shed.RoleSetpoint) {
			continue
		}

		if p.fixed != nil {
			actions = append(actions, shed.Action{
				Device: d.Name,
				Role:   shed.RoleSetpoint,
				Kind:   shed.ActionOverride,
				Value:  shed.Analog(*p.fixed),
				Reason: "fixed setpoint",
			})

			continue
		}

		sensor, ok := p.sensor(in, d.Name)
		if !ok {
			continue
		}

		actions = append(actions, shed.Action{
			Device: d.Name,
			Role:   shed.RoleSetpoint,
			Kind:   shed.ActionOverride,
			Value:  shed.Analog(sensor + p.adjustment),
			Reason: fmt.Sprintf("sensor %g %+g", sensor, p.adjustment),
		})
	}

	return actions
}

// Decide implements Policy. Held setpoints are released once the sensor
// reaches the release threshold.
func (p *Setpoint) Decide(in Input) []shed.Action {
	if p.releaseAbove == nil || in.Ledger == nil {
		return nil
	}

	var actions []shed.Action

	for _, d := range in.Registry.Devices() {
		if !in.Ledger.Has(d.Name, shed.RoleSetpoint) {
			continue
		}

		sensor, ok := p.sensor(in, d.Name)
		if !ok || sensor < *p.releaseAbove {
			continue
		}

		actions = append(actions, shed.Action{
			Device: d.Name,
			Role:   shed.RoleSetpoint,
			Kind:   shed.ActionRelease,
			Reason: fmt.Sprintf("sensor %g reached %g", sensor, *p.releaseAbove),
		})
	}

	return actions
}

// sensor returns the latest numeric sensor reading of a device. Non-finite
// readings count as missing.
func (*Setpoint) sensor(in Input, device string) (float64, bool) {
	v, ok := in.Readings.Value(device, shed.RoleSensor)
	if !ok {
		return 0, false
	}

	n, ok := v.Float()
	if !ok || !shed.IsFinite(n) {
		return 0, false
	}

	return n, true
}
