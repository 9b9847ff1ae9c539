package shed

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestParseValue verifies binary and analog parsing as well as rejection of garbage.
func TestParseValue(t *testing.T) {
	t.Parallel()

	v, err := ParseValue("active")
	require.NoError(t, err)
	require.Equal(t, Binary(true), v)

	v, err = ParseValue(" OFF ")
	require.NoError(t, err)
	require.Equal(t, Inactive(), v)

	v, err = ParseValue("72.5")
	require.NoError(t, err)

	n, ok := v.Float()
	require.True(t, ok)
	require.InDelta(t, 72.5, n, 1e-9)
	require.Equal(t, "72.5", v.String())

	_, err = ParseValue("warm")
	require.ErrorIs(t, err, ErrInvalidValue)

	for _, s := range []string{"NaN", "nan", "Inf", "+Inf", "-Inf", "infinity", "1e400"} {
		_, err = ParseValue(s)
		require.ErrorIs(t, err, ErrInvalidValue, s)
	}
}

// TestValueAccessors checks that kind-specific accessors report the kind mismatch.
func TestValueAccessors(t *testing.T) {
	t.Parallel()

	_, ok := Binary(true).Float()
	require.False(t, ok)

	_, ok = Analog(1).IsActive()
	require.False(t, ok)

	require.True(t, Value{}.IsZero())
	require.Equal(t, "inactive", Inactive().String())
}

// TestStageRole verifies stage role naming and parsing.
func TestStageRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, Role("stage-3"), StageRole(3))

	n, ok := StageRole(4).StageNumber()
	require.True(t, ok)
	require.Equal(t, 4, n)

	_, ok = RoleSensor.StageNumber()
	require.False(t, ok)

	_, ok = Role("stage-0").StageNumber()
	require.False(t, ok)
}

// TestDeviceCloneAndPoint ensures Clone deep-copies points and Point resolves references.
func TestDeviceCloneAndPoint(t *testing.T) {
	t.Parallel()

	require.Nil(t, (*Device)(nil).Clone())

	d := &Device{
		Name:     "VMA-1-1",
		Address:  "10.200.200.14",
		Points:   map[Role]string{RoleSensor: "analogInput 1", RoleSetpoint: "analogValue 1103"},
		Priority: 8,
	}

	c := d.Clone()
	require.Equal(t, d, c)

	c.Points[RoleSensor] = "changed"
	require.Equal(t, "analogInput 1", d.Points[RoleSensor])

	ref, ok := d.Point(RoleSetpoint)
	require.True(t, ok)
	require.Equal(t, PointRef{Device: "VMA-1-1", Role: RoleSetpoint, Address: "10.200.200.14", Point: "analogValue 1103"}, ref)

	_, ok = d.Point(StageRole(1))
	require.False(t, ok)
}

// TestEventFlagsAreMonotonic checks that expired and terminated flags are set exactly once.
func TestEventFlagsAreMonotonic(t *testing.T) {
	t.Parallel()

	e := NewEvent(time.Now(), time.Minute)
	require.NotEqual(t, uuid.Nil, e.ID)

	require.False(t, e.Expired())
	require.True(t, e.MarkExpired())
	require.False(t, e.MarkExpired())
	require.True(t, e.Expired())

	require.True(t, e.MarkTerminated())
	require.False(t, e.MarkTerminated())
	require.True(t, e.Terminated())
}

// TestReadings covers snapshot lookups including failed reads.
func TestReadings(t *testing.T) {
	t.Parallel()

	var empty *Readings
	_, ok := empty.Value("a", RoleSensor)
	require.False(t, ok)
	require.Zero(t, empty.Len())

	r := NewReadings(time.Unix(10, 0), []Reading{
		{Point: PointRef{Device: "a", Role: RoleSensor}, Value: Analog(70)},
		{Point: PointRef{Device: "b", Role: RoleSensor}, Err: errors.New("timeout")},
	})

	v, ok := r.Value("a", RoleSensor)
	require.True(t, ok)
	require.Equal(t, Analog(70), v)

	_, ok = r.Value("b", RoleSensor)
	require.False(t, ok)

	reading, ok := r.Get("b", RoleSensor)
	require.True(t, ok)
	require.Error(t, reading.Err)
	require.Equal(t, 2, r.Len())
}

// TestReportStatus verifies the three caller-visible outcomes.
func TestReportStatus(t *testing.T) {
	t.Parallel()

	var missing *Report
	require.Equal(t, StatusIncomplete, missing.Status())

	r := &Report{}
	require.Equal(t, StatusIncomplete, r.Status())

	r.Finalized = true
	require.Equal(t, StatusCompleted, r.Status())
	require.Contains(t, r.Summary(), "completed")

	r.ReleaseFailures = append(r.ReleaseFailures, DeviceError{
		Point: PointRef{Device: "rtu-1", Role: StageRole(4), Address: "10.0.0.1", Point: "binaryOutput 6"},
		Op:    OpRelease,
		Err:   errors.New("unreachable"),
	})
	require.Equal(t, StatusCompletedWithFailures, r.Status())
	require.Contains(t, r.Summary(), "rtu-1/stage-4")
	require.Equal(t, "completed_with_failures", r.Status().String())
}
