package gateway

import (
	"context"
	"errors"

	"github.com/oshokin/loadshed/internal/domain/shed"
)

var (
	// ErrUnknownPoint is returned when the point does not exist on the device.
	ErrUnknownPoint = errors.New("unknown point")
	// ErrUnavailable is returned when the device or gateway cannot be reached.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrClosed is returned for calls made after Shutdown.
	ErrClosed = errors.New("gateway closed")
	// ErrInvalidPriority is returned for priorities outside the priority array.
	ErrInvalidPriority = errors.New("invalid priority")
	// ErrInvalidValue is returned when a value cannot be written to the point.
	ErrInvalidValue = errors.New("invalid value")
)

// Gateway reads, overrides and releases remote points.
//
// Write and Release act on a single priority-array level. Release clears that
// level so lower priorities (ultimately the controller's own logic) take over
// again. Shutdown ends the session; every later call fails with ErrClosed.
type Gateway interface {
	Read(ctx context.Context, point shed.PointRef) (shed.Value, error)
	Write(ctx context.Context, point shed.PointRef, value shed.Value, priority int) error
	Release(ctx context.Context, point shed.PointRef, priority int) error
	Shutdown(ctx context.Context) error
}

// CheckPriority validates a priority-array level.
func CheckPriority(priority int) error {
	if priority < shed.MinPriority || priority > shed.MaxPriority {
		return ErrInvalidPriority
	}

	return nil
}
