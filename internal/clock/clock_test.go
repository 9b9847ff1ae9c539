package clock

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventClock_ExpiresAfterDuration(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)
	source := NewManual(t0)
	ec := NewEventClock(source, 120*time.Second)

	source.Set(t0.Add(60 * time.Second))
	require.False(t, ec.IsExpired())
	require.Equal(t, 60*time.Second, ec.Elapsed())
	require.Equal(t, 60*time.Second, ec.Remaining())

	source.Set(t0.Add(121 * time.Second))
	require.True(t, ec.IsExpired())
	require.Zero(t, ec.Remaining())
}

func TestEventClock_ExpiryIsLatched(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)
	source := NewManual(t0)
	ec := NewEventClock(source, time.Minute)

	source.Advance(time.Minute)
	require.True(t, ec.IsExpired())

	// Clock stepped backwards.
	source.Set(t0.Add(-time.Hour))
	require.True(t, ec.IsExpired())
	require.Zero(t, ec.Elapsed())
}

func TestEventClock_Real(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ec := NewEventClock(nil, 5*time.Second)
		require.False(t, ec.IsExpired())

		time.Sleep(4 * time.Second)
		require.False(t, ec.IsExpired())
		require.Equal(t, 4*time.Second, ec.Elapsed())

		time.Sleep(time.Second)
		require.True(t, ec.IsExpired())
	})
}
