package simulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway"
	"github.com/oshokin/loadshed/internal/gateway/sim"
	"github.com/oshokin/loadshed/internal/logger"
	repo "github.com/oshokin/loadshed/internal/repository/state"
)

// service adapts the simulator to a long-lived gateway server.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// sim holds the priority arrays.
	sim *sim.Simulator
	// repo handles persistent storage of the priority arrays.
	repo repo.Repository
}

// newService creates a service whose simulator is restored from repository
// and then seeded: values set relinquish defaults, devices add missing points.
func newService(
	ctx context.Context,
	repository repo.Repository,
	values map[string]string,
	devices []*shed.Device,
) (*service, error) {
	s := &service{repo: repository}
	s.sim = sim.New(sim.WithOnChange(s.persist))

	if repository != nil {
		points, err := repository.Load(ctx)

		switch {
		case err == nil:
			s.sim.Restore(points)
			logger.InfoKV(ctx, "Restored simulator state", "points", len(points))
		case errors.Is(err, repo.ErrNotFound):
			// Start empty.
		default:
			return nil, fmt.Errorf("load state: %w", err)
		}
	}

	if err := s.sim.SeedValues(values); err != nil {
		return nil, err
	}

	for _, d := range devices {
		s.sim.SeedDevice(d, nil)
	}

	return s, nil
}

// persist saves the priority arrays after each change.
func (s *service) persist(ctx context.Context) {
	if s.repo == nil {
		return
	}

	if err := s.repo.Save(context.WithoutCancel(ctx), s.sim.Snapshot()); err != nil {
		logger.Errorf(ctx, "Failed to persist simulator state: %v", err)
	}
}

// Read implements gateway.Gateway.
func (s *service) Read(ctx context.Context, point shed.PointRef) (shed.Value, error) {
	return s.sim.Read(ctx, point)
}

// Write implements gateway.Gateway.
func (s *service) Write(ctx context.Context, point shed.PointRef, value shed.Value, priority int) error {
	err := s.sim.Write(ctx, point, value, priority)
	if err == nil {
		logger.InfoKV(ctx, "Point commanded", "point", point.String(), "value", value.String(), "priority", priority)
	}

	return err
}

// Release implements gateway.Gateway.
func (s *service) Release(ctx context.Context, point shed.PointRef, priority int) error {
	err := s.sim.Release(ctx, point, priority)
	if err == nil {
		logger.InfoKV(ctx, "Point relinquished", "point", point.String(), "priority", priority)
	}

	return err
}

// Shutdown implements gateway.Gateway. It ends the caller's session only:
// the arrays are flushed and the server keeps serving.
func (s *service) Shutdown(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
	}

	s.persist(ctx)
	logger.Info(ctx, "Client session closed")

	return nil
}

// Compile-time interface satisfaction check.
var _ gateway.Gateway = (*service)(nil)
