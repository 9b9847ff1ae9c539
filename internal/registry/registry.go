package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
)

var (
	// ErrDuplicateDevice is returned when two devices share a name.
	ErrDuplicateDevice = errors.New("duplicate device name")
	// ErrInvalidDevice is returned for devices missing required fields.
	ErrInvalidDevice = errors.New("invalid device")
	// ErrUnknownDevice is returned by Lookup for unregistered names.
	ErrUnknownDevice = errors.New("unknown device")
)

// Registry is an immutable, ordered set of devices.
type Registry struct {
	devices []*shed.Device
	byName  map[string]*shed.Device
}

// New builds a registry from devices, keeping their order.
func New(devices ...*shed.Device) (*Registry, error) {
	r := &Registry{
		devices: make([]*shed.Device, 0, len(devices)),
		byName:  make(map[string]*shed.Device, len(devices)),
	}

	for _, d := range devices {
		if d == nil || d.Name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidDevice)
		}

		if d.Priority < shed.MinPriority || d.Priority > shed.MaxPriority {
			return nil, fmt.Errorf("%w: %s: priority %d", ErrInvalidDevice, d.Name, d.Priority)
		}

		if _, found := r.byName[d.Name]; found {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, d.Name)
		}

		cloned := d.Clone()
		r.devices = append(r.devices, cloned)
		r.byName[cloned.Name] = cloned
	}

	return r, nil
}

// FromConfig builds a registry from the validated device section.
func FromConfig(cfg *config.Config) (*Registry, error) {
	devices := make([]*shed.Device, 0, len(cfg.Devices))

	for i := range cfg.Devices {
		dc := &cfg.Devices[i]

		points := make(map[shed.Role]string, len(dc.Points))
		for role, id := range dc.Points {
			points[shed.Role(role)] = id
		}

		devices = append(devices, &shed.Device{
			Name:     dc.Name,
			Address:  dc.Address,
			Points:   points,
			Priority: cfg.PriorityFor(dc),
		})
	}

	return New(devices...)
}

// Devices returns the devices in registration order.
// Callers must not modify them.
func (r *Registry) Devices() []*shed.Device {
	return r.devices
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// Lookup returns the device with the given name.
func (r *Registry) Lookup(name string) (*shed.Device, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}

	return d, nil
}

// Point resolves a device role to a point reference.
func (r *Registry) Point(name string, role shed.Role) (shed.PointRef, bool) {
	d, ok := r.byName[name]
	if !ok {
		return shed.PointRef{}, false
	}

	return d.Point(role)
}

// Stages returns the stage roles of a device ordered by stage number.
func Stages(d *shed.Device) []shed.Role {
	type stage struct {
		n    int
		role shed.Role
	}

	stages := make([]stage, 0, len(d.Points))

	for role := range d.Points {
		if n, ok := role.StageNumber(); ok {
			stages = append(stages, stage{n: n, role: role})
		}
	}

	slices.SortFunc(stages, func(a, b stage) int { return a.n - b.n })

	roles := make([]shed.Role, 0, len(stages))
	for _, s := range stages {
		roles = append(roles, s.role)
	}

	return roles
}
