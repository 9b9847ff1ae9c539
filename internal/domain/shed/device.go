package shed

import (
	"fmt"
	"strconv"
	"strings"
)

// Role names the purpose of a point on a device.
type Role string

// Well-known point roles.
const (
	// RoleSensor is the measured value (zone temperature, duct pressure).
	RoleSensor Role = "sensor"
	// RoleSetpoint is the writable setpoint the override targets.
	RoleSetpoint Role = "setpoint"

	// stageRolePrefix prefixes numbered binary stage outputs.
	stageRolePrefix = "stage-"
)

// Write priority bounds of a priority array.
const (
	MinPriority = 1
	MaxPriority = 16
)

// StageRole returns the role of the n-th stage output (1-based).
func StageRole(n int) Role {
	return Role(stageRolePrefix + strconv.Itoa(n))
}

// StageNumber returns the stage index encoded in a stage role.
func (r Role) StageNumber() (int, bool) {
	s, found := strings.CutPrefix(string(r), stageRolePrefix)
	if !found {
		return 0, false
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}

	return n, true
}

// Device is a remote controller whose points may be overridden during an event.
type Device struct {
	// Name is the unique registry key.
	Name string
	// Address is the network address the gateway uses to reach the controller.
	Address string
	// Points maps each role to the controller's point identifier (e.g. "analogValue 27").
	Points map[Role]string
	// Priority is the priority-array level used for writes and releases.
	Priority int
}

// PointRef addresses one point of one device.
type PointRef struct {
	// Device is the registry name of the owning device.
	Device string
	// Role is the point's role on the device.
	Role Role
	// Address is the device network address.
	Address string
	// Point is the controller point identifier.
	Point string
}

// String renders the reference for logs.
func (p PointRef) String() string {
	return fmt.Sprintf("%s/%s (%s %s)", p.Device, p.Role, p.Address, p.Point)
}

// Point returns the reference of the point with the given role.
func (d *Device) Point(role Role) (PointRef, bool) {
	id, ok := d.Points[role]
	if !ok {
		return PointRef{}, false
	}

	return PointRef{
		Device:  d.Name,
		Role:    role,
		Address: d.Address,
		Point:   id,
	}, true
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	cloned := *d

	cloned.Points = make(map[Role]string, len(d.Points))
	for role, id := range d.Points {
		cloned.Points[role] = id
	}

	return &cloned
}
