package orchestrator

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway/sim"
	"github.com/oshokin/loadshed/internal/journal"
	"github.com/oshokin/loadshed/internal/policy"
	"github.com/oshokin/loadshed/internal/registry"
)

var errUnreachable = errors.New("device unreachable")

const eventDuration = 10 * time.Minute

func testSettings() Settings {
	return Settings{
		Duration:         eventDuration,
		PollInterval:     config.DefaultPollInterval,
		EvaluateInterval: config.DefaultEvaluateInterval,
		ExpiryInterval:   config.DefaultExpiryInterval,
		CallTimeout:      config.DefaultTimeout,
	}
}

func rtu(name, address string) *shed.Device {
	return &shed.Device{
		Name:     name,
		Address:  address,
		Priority: 8,
		Points: map[shed.Role]string{
			shed.StageRole(1): "binaryOutput 3",
			shed.StageRole(2): "binaryOutput 4",
			shed.StageRole(3): "binaryOutput 5",
			shed.StageRole(4): "binaryOutput 6",
		},
	}
}

func zone(name, address string) *shed.Device {
	return &shed.Device{
		Name:     name,
		Address:  address,
		Priority: 12,
		Points: map[shed.Role]string{
			shed.RoleSensor:   "analogInput 1",
			shed.RoleSetpoint: "analogValue 1103",
		},
	}
}

func stagedPolicy() policy.Policy {
	return policy.NewStaged(config.StagedPolicyConfig{
		Table: map[int][]string{
			3: {"stage-3", "stage-4"},
			4: {"stage-4"},
		},
	})
}

func setpointPolicy(releaseAbove *float64) policy.Policy {
	return policy.NewSetpoint(config.SetpointPolicyConfig{Adjustment: 3, ReleaseAbove: releaseAbove})
}

type fixture struct {
	registry *registry.Registry
	gateway  *sim.Simulator
	journal  *journal.Memory
}

func newFixture(t *testing.T, devices ...*shed.Device) *fixture {
	t.Helper()

	reg, err := registry.New(devices...)
	require.NoError(t, err)

	gw := sim.New()
	for _, d := range reg.Devices() {
		gw.SeedDevice(d, nil)
	}

	return &fixture{registry: reg, gateway: gw, journal: &journal.Memory{}}
}

func (f *fixture) orchestrator(t *testing.T, pol policy.Policy) *Orchestrator {
	t.Helper()

	return f.orchestratorWith(t, testSettings(), pol)
}

func (f *fixture) orchestratorWith(t *testing.T, settings Settings, pol policy.Policy) *Orchestrator {
	t.Helper()

	o, err := New(settings, f.registry, f.gateway, pol,
		WithJournal(f.journal),
		WithActor(&shed.Actor{Hostname: "bms-01", Username: "operator"}),
	)
	require.NoError(t, err)

	return o
}

// requireAllReleased checks that no priority level is left commanded.
func (f *fixture) requireAllReleased(t *testing.T) {
	t.Helper()

	for _, st := range f.gateway.Snapshot() {
		require.Equal(t, st.Default, st.Present(), "point %s still commanded", st.ID)
	}
}

func (f *fixture) requireShutdownOnce(t *testing.T) {
	t.Helper()

	require.Len(t, f.gateway.CallsOf(shed.OpShutdown), 1)
	require.True(t, f.gateway.Closed())
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, zone("VMA-1-1", "10.0.0.1"))

	_, err := New(testSettings(), nil, f.gateway, setpointPolicy(nil))
	require.ErrorIs(t, err, errMissingDependency)

	_, err = New(testSettings(), f.registry, nil, setpointPolicy(nil))
	require.ErrorIs(t, err, errMissingDependency)

	_, err = New(testSettings(), f.registry, f.gateway, nil)
	require.ErrorIs(t, err, errMissingDependency)

	_, err = New(Settings{}, f.registry, f.gateway, setpointPolicy(nil))
	require.ErrorIs(t, err, errInvalidDuration)
}

func TestStagedEventReleasesEveryOverride(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, rtu("RTU-1", "10.0.0.21"), rtu("RTU-2", "10.0.0.22"))
		o := f.orchestrator(t, stagedPolicy())

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		// Four active: stage-4 at start. Three active on the next evaluation: stage-3.
		require.Equal(t, 4, report.Applied)
		require.Equal(t, 4, report.FinalReleases)
		require.Zero(t, report.EarlyReleases)
		require.True(t, report.Finalized)
		require.False(t, report.Aborted)
		require.Equal(t, shed.StatusCompleted, report.Status())

		require.Equal(t, shed.StateFinalized, o.State())
		require.Zero(t, o.Ledger().Len())

		writes := make(map[sim.PointID]int)
		for _, c := range f.gateway.CallsOf(shed.OpWrite) {
			require.Equal(t, shed.Inactive(), c.Value)
			require.Equal(t, 8, c.Priority)

			writes[c.Point]++
		}

		require.Len(t, writes, 4)

		for id, n := range writes {
			require.Equal(t, 1, n, "point %s written more than once", id)
		}

		require.Len(t, f.gateway.CallsOf(shed.OpRelease), 4)
		f.requireAllReleased(t)
		f.requireShutdownOnce(t)
	})
}

func TestEventExpiresOnTime(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, rtu("RTU-1", "10.0.0.21"))
		o := f.orchestrator(t, stagedPolicy())

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		took := report.FinishedAt.Sub(report.StartedAt)
		require.GreaterOrEqual(t, took, eventDuration)
		require.LessOrEqual(t, took, eventDuration+config.DefaultExpiryInterval)
		require.True(t, o.Event().Expired())
		require.True(t, o.Event().Terminated())
	})
}

func TestEventWithoutOverridesStillFinalizes(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, zone("VMA-1-1", "10.0.0.1"), zone("VMA-1-2", "10.0.0.2"))
		f.gateway.Fail(shed.OpRead, "", "", errUnreachable)

		o := f.orchestrator(t, setpointPolicy(nil))

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		require.Zero(t, report.Applied)
		require.Zero(t, report.FinalReleases)
		require.NotEmpty(t, report.ReadErrors)
		require.Empty(t, f.gateway.CallsOf(shed.OpWrite))
		require.Equal(t, shed.StatusCompleted, report.Status())
		f.requireShutdownOnce(t)
	})
}

func TestWriteFailureIsIsolated(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		a := zone("VMA-A", "10.0.0.1")
		b := zone("VMA-B", "10.0.0.2")

		f := newFixture(t, a, b)
		f.gateway.Fail(shed.OpWrite, a.Address, a.Points[shed.RoleSetpoint], errUnreachable)

		o := f.orchestrator(t, setpointPolicy(nil))

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		require.Equal(t, 1, report.Applied)
		require.Len(t, report.WriteErrors, 1)
		require.Equal(t, "VMA-A", report.WriteErrors[0].Point.Device)
		require.ErrorIs(t, report.WriteErrors[0], errUnreachable)

		releases := f.gateway.CallsOf(shed.OpRelease)
		require.Len(t, releases, 1)
		require.Equal(t, sim.PointID{Address: b.Address, Point: b.Points[shed.RoleSetpoint]}, releases[0].Point)
		require.Equal(t, 12, releases[0].Priority)

		require.Equal(t, shed.StatusCompleted, report.Status())
		f.requireAllReleased(t)
		f.requireShutdownOnce(t)
	})
}

func TestReadFailureIsIsolated(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		a := zone("VMA-A", "10.0.0.1")
		b := zone("VMA-B", "10.0.0.2")

		f := newFixture(t, a, b)
		f.gateway.Fail(shed.OpRead, a.Address, a.Points[shed.RoleSensor], errUnreachable)

		o := f.orchestrator(t, setpointPolicy(nil))

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		require.NotEmpty(t, report.ReadErrors)

		for _, e := range report.ReadErrors {
			require.Equal(t, "VMA-A", e.Point.Device)
			require.ErrorIs(t, e, errUnreachable)
		}

		// B is read on every pass A is attempted on.
		sensorReads := make(map[sim.PointID]int)
		for _, c := range f.gateway.CallsOf(shed.OpRead) {
			sensorReads[c.Point]++
		}

		aSensor := sim.PointID{Address: a.Address, Point: a.Points[shed.RoleSensor]}
		bSensor := sim.PointID{Address: b.Address, Point: b.Points[shed.RoleSensor]}
		require.Greater(t, sensorReads[bSensor], 1)
		require.Equal(t, sensorReads[aSensor], sensorReads[bSensor])

		bSetpoint := sim.PointID{Address: b.Address, Point: b.Points[shed.RoleSetpoint]}

		writes := f.gateway.CallsOf(shed.OpWrite)
		require.Len(t, writes, 1)
		require.Equal(t, bSetpoint, writes[0].Point)
		require.Equal(t, shed.Analog(sim.DefaultAnalog+3), writes[0].Value)

		releases := f.gateway.CallsOf(shed.OpRelease)
		require.Len(t, releases, 1)
		require.Equal(t, bSetpoint, releases[0].Point)

		require.Equal(t, 1, report.Applied)
		require.Equal(t, 1, report.FinalReleases)
		require.Equal(t, shed.StatusCompleted, report.Status())
		f.requireAllReleased(t)
		f.requireShutdownOnce(t)
	})
}

func TestHangingCallTimesOut(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		a := zone("VMA-A", "10.0.0.1")
		b := zone("VMA-B", "10.0.0.2")

		f := newFixture(t, a, b)
		f.gateway.Delay(shed.OpWrite, a.Address, a.Points[shed.RoleSetpoint], time.Hour)
		f.gateway.Delay(shed.OpRead, b.Address, b.Points[shed.RoleSensor], time.Hour)

		o := f.orchestrator(t, setpointPolicy(nil))

		done := make(chan *shed.Report, 1)

		go func() {
			report, _ := o.Run(t.Context()) //nolint:errcheck // Only ErrAlreadyStarted, impossible here.
			done <- report
		}()

		// A's sensor answers at once, B's read gives up after the call timeout.
		time.Sleep(config.DefaultTimeout)
		synctest.Wait()

		// A's write gives up after one more call timeout and monitoring begins.
		time.Sleep(config.DefaultTimeout)
		synctest.Wait()
		require.Equal(t, shed.StateMonitoring, o.State())

		report := <-done

		require.Zero(t, report.Applied)
		require.Len(t, report.WriteErrors, 1)
		require.Equal(t, "VMA-A", report.WriteErrors[0].Point.Device)
		require.ErrorIs(t, report.WriteErrors[0], context.DeadlineExceeded)

		require.NotEmpty(t, report.ReadErrors)

		for _, e := range report.ReadErrors {
			require.Equal(t, "VMA-B", e.Point.Device)
			require.ErrorIs(t, e, context.DeadlineExceeded)
		}

		// Hanging calls cost one timeout each and never hold the event open.
		took := report.FinishedAt.Sub(report.StartedAt)
		require.GreaterOrEqual(t, took, eventDuration)
		require.LessOrEqual(t, took, eventDuration+config.DefaultTimeout+config.DefaultExpiryInterval)

		require.Empty(t, f.gateway.CallsOf(shed.OpRelease))
		require.Equal(t, shed.StatusCompleted, report.Status())
		f.requireAllReleased(t)
		f.requireShutdownOnce(t)
	})
}

func TestWriteInFlightAtAbortIsReleased(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		a := zone("VMA-A", "10.0.0.1")
		b := zone("VMA-B", "10.0.0.2")

		f := newFixture(t, a, b)
		f.gateway.Delay(shed.OpWrite, a.Address, a.Points[shed.RoleSetpoint], 3*time.Second)

		o := f.orchestrator(t, setpointPolicy(nil))

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		done := make(chan *shed.Report, 1)

		go func() {
			report, _ := o.Run(ctx) //nolint:errcheck // Only ErrAlreadyStarted, impossible here.
			done <- report
		}()

		time.Sleep(time.Second)
		synctest.Wait()
		require.Equal(t, shed.StateStarting, o.State())

		cancel()

		report := <-done
		require.True(t, report.Aborted)

		// A's write completes and is released; B is never written.
		writes := f.gateway.CallsOf(shed.OpWrite)
		require.Len(t, writes, 1)
		require.NoError(t, writes[0].Err)
		require.Equal(t, sim.PointID{Address: a.Address, Point: a.Points[shed.RoleSetpoint]}, writes[0].Point)

		require.Equal(t, 1, report.Applied)
		require.Equal(t, 1, report.FinalReleases)
		require.Empty(t, report.WriteErrors)
		require.Equal(t, shed.StatusCompleted, report.Status())
		f.requireAllReleased(t)
		f.requireShutdownOnce(t)
	})
}

func TestWriteInFlightAtExpiryIsReleased(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		unit := rtu("RTU-1", "10.0.0.21")

		f := newFixture(t, unit)
		f.gateway.Delay(shed.OpWrite, unit.Address, unit.Points[shed.StageRole(4)], 90*time.Second)

		settings := testSettings()
		settings.Duration = 9 * time.Minute
		settings.CallTimeout = 2 * time.Minute

		// Due on the evaluation at 8m, one minute before the end; the write
		// is still running when the event expires.
		o := f.orchestratorWith(t, settings, policy.NewStepped(config.SteppedPolicyConfig{
			Steps: []config.StepConfig{{After: 7*time.Minute + 30*time.Second, ForceOff: []string{"stage-4"}}},
		}))

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		require.False(t, report.Aborted)
		require.True(t, o.Event().Expired())

		writes := f.gateway.CallsOf(shed.OpWrite)
		require.Len(t, writes, 1)
		require.NoError(t, writes[0].Err)

		require.Equal(t, 1, report.Applied)
		require.Equal(t, 1, report.FinalReleases)
		require.GreaterOrEqual(t, report.FinishedAt.Sub(report.StartedAt), 8*time.Minute+90*time.Second)

		releases := f.gateway.CallsOf(shed.OpRelease)
		require.Len(t, releases, 1)
		require.Equal(t, writes[0].Point, releases[0].Point)
		require.Equal(t, shed.StatusCompleted, report.Status())
		f.requireAllReleased(t)
		f.requireShutdownOnce(t)
	})
}

func TestReleaseFailureIsReported(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		a := zone("VMA-A", "10.0.0.1")
		b := zone("VMA-B", "10.0.0.2")

		f := newFixture(t, a, b)
		f.gateway.Fail(shed.OpRelease, a.Address, a.Points[shed.RoleSetpoint], errUnreachable)

		o := f.orchestrator(t, setpointPolicy(nil))

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		require.Equal(t, 2, report.Applied)
		require.Equal(t, 1, report.FinalReleases)
		require.Len(t, report.ReleaseFailures, 1)
		require.Equal(t, "VMA-A", report.ReleaseFailures[0].Point.Device)
		require.Equal(t, shed.StatusCompletedWithFailures, report.Status())
		require.Contains(t, report.Summary(), "VMA-A/setpoint")

		// The failed point is not retried and the session still closes once.
		require.Len(t, f.gateway.CallsOf(shed.OpRelease), 2)
		f.requireShutdownOnce(t)

		records := f.journal.Records()
		require.Equal(t, journal.KindEventFinished, records[len(records)-1].Kind)
		require.Equal(t, "completed_with_failures", records[len(records)-1].Status)
	})
}

func TestAbortReleasesEverything(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, rtu("RTU-1", "10.0.0.21"))
		o := f.orchestrator(t, stagedPolicy())

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		type result struct {
			report *shed.Report
			err    error
		}

		done := make(chan result, 1)

		go func() {
			report, err := o.Run(ctx)
			done <- result{report: report, err: err}
		}()

		time.Sleep(90 * time.Second)
		synctest.Wait()
		require.Equal(t, shed.StateMonitoring, o.State())

		cancel()

		res := <-done
		require.NoError(t, res.err)
		require.True(t, res.report.Aborted)
		require.True(t, res.report.Finalized)
		require.Less(t, res.report.FinishedAt.Sub(res.report.StartedAt), eventDuration)
		require.Equal(t, res.report.Applied, res.report.FinalReleases)

		f.requireAllReleased(t)
		f.requireShutdownOnce(t)
	})
}

func TestSetpointReleasedEarly(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		releaseAbove := 78.0

		hot := zone("VMA-HOT", "10.0.0.1")
		cool := zone("VMA-COOL", "10.0.0.2")

		f := newFixture(t, hot, cool)
		o := f.orchestrator(t, setpointPolicy(&releaseAbove))

		done := make(chan *shed.Report, 1)

		go func() {
			report, _ := o.Run(t.Context()) //nolint:errcheck // Only ErrAlreadyStarted, impossible here.
			done <- report
		}()

		time.Sleep(30 * time.Second)
		synctest.Wait()

		held, ok := o.Ledger().Get(hot.Name, shed.RoleSetpoint)
		require.True(t, ok)
		require.Equal(t, shed.Analog(sim.DefaultAnalog+3), held.Value)

		f.gateway.Seed(hot.Address, hot.Points[shed.RoleSensor], shed.Analog(80))

		report := <-done
		require.Equal(t, 2, report.Applied)
		require.Equal(t, 1, report.EarlyReleases)
		require.Equal(t, 1, report.FinalReleases)
		f.requireAllReleased(t)

		var decisions []journal.Record

		for _, rec := range f.journal.Records() {
			if rec.Kind == journal.KindDecision {
				decisions = append(decisions, rec)
			}
		}

		require.Len(t, decisions, 3)
		require.Equal(t, hot.Name, decisions[2].Device)
		require.Contains(t, decisions[2].Reason, "release")
	})
}

func TestJournalTracksLifecycle(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, zone("VMA-1-1", "10.0.0.1"))
		o := f.orchestrator(t, setpointPolicy(nil))

		report, err := o.Run(t.Context())
		require.NoError(t, err)

		records := f.journal.Records()
		require.NotEmpty(t, records)

		first := records[0]
		require.Equal(t, journal.KindEventStarted, first.Kind)
		require.Equal(t, report.EventID.String(), first.EventID)
		require.Equal(t, "operator@bms-01", first.Actor)
		require.Equal(t, config.PolicySetpoint, first.Policy)
		require.Equal(t, eventDuration, first.Duration)

		var states []string

		for _, rec := range records {
			require.Equal(t, first.EventID, rec.EventID)

			if rec.Kind == journal.KindState {
				states = append(states, rec.State)
			}
		}

		require.Equal(t, []string{"STARTING", "MONITORING", "EXPIRING", "FINALIZED"}, states)

		summaries := journal.Replay(records)
		require.Len(t, summaries, 1)
		require.Equal(t, "completed", summaries[0].Status)
		require.False(t, summaries[0].NeedsRelease())
	})
}

func TestRunTwice(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, zone("VMA-1-1", "10.0.0.1"))
		o := f.orchestrator(t, setpointPolicy(nil))

		_, err := o.Run(t.Context())
		require.NoError(t, err)

		_, err = o.Run(t.Context())
		require.ErrorIs(t, err, ErrAlreadyStarted)
		f.requireShutdownOnce(t)
	})
}
