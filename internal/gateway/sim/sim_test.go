package sim

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway"
)

var errBoom = errors.New("boom")

func ref(address, point string) shed.PointRef {
	return shed.PointRef{Device: "d", Role: shed.RoleSetpoint, Address: address, Point: point}
}

func TestSimulator_PriorityArray(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	s.Seed("10.0.0.1", "av 1", shed.Analog(72))

	v, err := s.Read(ctx, ref("10.0.0.1", "av 1"))
	require.NoError(t, err)
	require.Equal(t, shed.Analog(72), v)

	require.NoError(t, s.Write(ctx, ref("10.0.0.1", "av 1"), shed.Analog(76), 12))
	require.NoError(t, s.Write(ctx, ref("10.0.0.1", "av 1"), shed.Analog(75), 8))

	v, err = s.Read(ctx, ref("10.0.0.1", "av 1"))
	require.NoError(t, err)
	require.Equal(t, shed.Analog(75), v)

	// Releasing priority 8 falls back to 12, then to the default.
	require.NoError(t, s.Release(ctx, ref("10.0.0.1", "av 1"), 8))
	v, _ = s.Read(ctx, ref("10.0.0.1", "av 1"))
	require.Equal(t, shed.Analog(76), v)

	require.NoError(t, s.Release(ctx, ref("10.0.0.1", "av 1"), 12))
	v, _ = s.Read(ctx, ref("10.0.0.1", "av 1"))
	require.Equal(t, shed.Analog(72), v)

	// Releasing an empty slot is fine.
	require.NoError(t, s.Release(ctx, ref("10.0.0.1", "av 1"), 12))
}

func TestSimulator_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	s.Seed("10.0.0.1", "bo 1", shed.Binary(true))

	_, err := s.Read(ctx, ref("10.0.0.1", "missing"))
	require.ErrorIs(t, err, gateway.ErrUnknownPoint)

	require.ErrorIs(t, s.Write(ctx, ref("10.0.0.1", "bo 1"), shed.Inactive(), 0), gateway.ErrInvalidPriority)
	require.ErrorIs(t, s.Write(ctx, ref("10.0.0.1", "bo 1"), shed.Inactive(), 17), gateway.ErrInvalidPriority)
	require.ErrorIs(t, s.Write(ctx, ref("10.0.0.1", "bo 1"), shed.Analog(1), 8), gateway.ErrInvalidValue)

	s.Fail(shed.OpWrite, "10.0.0.1", "bo 1", errBoom)
	require.ErrorIs(t, s.Write(ctx, ref("10.0.0.1", "bo 1"), shed.Inactive(), 8), errBoom)

	s.Fail(shed.OpWrite, "10.0.0.1", "bo 1", nil)
	require.NoError(t, s.Write(ctx, ref("10.0.0.1", "bo 1"), shed.Inactive(), 8))

	// Wildcard failure.
	s.Fail(shed.OpRead, "", "", gateway.ErrUnavailable)
	_, err = s.Read(ctx, ref("10.0.0.1", "bo 1"))
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, s.Release(cancelled, ref("10.0.0.1", "bo 1"), 8), gateway.ErrUnavailable)

	writes := s.CallsOf(shed.OpWrite)
	require.Len(t, writes, 5)
	require.NoError(t, writes[4].Err)
}

func TestSimulator_Delay(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := New()
		s.Seed("10.0.0.1", "av 1", shed.Analog(72))
		s.Delay(shed.OpWrite, "10.0.0.1", "av 1", time.Minute)

		started := time.Now()
		require.NoError(t, s.Write(t.Context(), ref("10.0.0.1", "av 1"), shed.Analog(75), 8))
		require.Equal(t, time.Minute, time.Since(started))

		// A deadline shorter than the delay fails the call and leaves the point alone.
		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()

		err := s.Write(ctx, ref("10.0.0.1", "av 1"), shed.Analog(80), 8)
		require.ErrorIs(t, err, gateway.ErrUnavailable)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		v, err := s.Read(t.Context(), ref("10.0.0.1", "av 1"))
		require.NoError(t, err)
		require.Equal(t, shed.Analog(75), v)

		s.Delay(shed.OpWrite, "10.0.0.1", "av 1", 0)

		started = time.Now()
		require.NoError(t, s.Write(t.Context(), ref("10.0.0.1", "av 1"), shed.Analog(76), 8))
		require.Zero(t, time.Since(started))
	})
}

func TestSimulator_Shutdown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	s.Seed("10.0.0.1", "av 1", shed.Analog(72))

	require.NoError(t, s.Shutdown(ctx))
	require.True(t, s.Closed())
	require.NoError(t, s.Shutdown(ctx))

	_, err := s.Read(ctx, ref("10.0.0.1", "av 1"))
	require.ErrorIs(t, err, gateway.ErrClosed)

	s2 := New()
	s2.Fail(shed.OpShutdown, "", "", errBoom)
	require.ErrorIs(t, s2.Shutdown(ctx), errBoom)
	require.False(t, s2.Closed())
}

func TestSimulator_SnapshotRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	changes := 0
	s := New(WithOnChange(func(context.Context) { changes++ }))
	s.SeedDevice(&shed.Device{
		Address: "10.0.0.2",
		Points:  map[shed.Role]string{shed.StageRole(1): "bo 1", shed.RoleSensor: "ai 1"},
	}, nil)

	require.NoError(t, s.Write(ctx, ref("10.0.0.2", "bo 1"), shed.Inactive(), 8))
	require.Equal(t, 1, changes)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "10.0.0.2 ai 1", snap[0].ID.String())
	require.Equal(t, shed.Analog(DefaultAnalog), snap[0].Default)
	require.Equal(t, shed.Inactive(), snap[1].Present())

	restored := New()
	restored.Restore(snap)

	st, ok := restored.Point("10.0.0.2", "bo 1")
	require.True(t, ok)
	require.Equal(t, shed.Binary(true), st.Default)
	require.Equal(t, shed.Inactive(), st.Levels[7])
}

func TestParsePointID(t *testing.T) {
	t.Parallel()

	id, ok := ParsePointID("10.0.0.1 analog-value 3")
	require.True(t, ok)
	require.Equal(t, PointID{Address: "10.0.0.1", Point: "analog-value 3"}, id)

	_, ok = ParsePointID("nospace")
	require.False(t, ok)
}
