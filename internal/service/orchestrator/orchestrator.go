package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/loadshed/internal/clock"
	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway"
	"github.com/oshokin/loadshed/internal/journal"
	"github.com/oshokin/loadshed/internal/ledger"
	"github.com/oshokin/loadshed/internal/logger"
	"github.com/oshokin/loadshed/internal/metrics"
	"github.com/oshokin/loadshed/internal/policy"
	"github.com/oshokin/loadshed/internal/registry"
)

var (
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("orchestrator already started")
	// errMissingDependency is returned by New for nil collaborators.
	errMissingDependency = errors.New("missing dependency")
	// errInvalidDuration is returned by New for a non-positive event duration.
	errInvalidDuration = errors.New("event duration must be positive")
)

// Settings controls event timing.
type Settings struct {
	// Duration is how long overrides are held.
	Duration time.Duration
	// PollInterval is the cadence of the poll activity.
	PollInterval time.Duration
	// EvaluateInterval is the cadence of the evaluate activity.
	EvaluateInterval time.Duration
	// ExpiryInterval is the cadence of the check-expiry activity.
	ExpiryInterval time.Duration
	// CallTimeout bounds every gateway call.
	CallTimeout time.Duration
}

// SettingsFromConfig copies the event section of the configuration.
func SettingsFromConfig(cfg *config.EventConfig) Settings {
	return Settings{
		Duration:         cfg.Duration,
		PollInterval:     cfg.PollInterval,
		EvaluateInterval: cfg.EvaluateInterval,
		ExpiryInterval:   cfg.ExpiryInterval,
		CallTimeout:      cfg.CallTimeout,
	}
}

// withDefaults fills zero cadences.
func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = config.DefaultPollInterval
	}

	if s.EvaluateInterval <= 0 {
		s.EvaluateInterval = config.DefaultEvaluateInterval
	}

	if s.ExpiryInterval <= 0 {
		s.ExpiryInterval = config.DefaultExpiryInterval
	}

	if s.CallTimeout <= 0 {
		s.CallTimeout = config.DefaultTimeout
	}

	return s
}

// Orchestrator drives a single event. It is not reusable.
type Orchestrator struct {
	settings Settings
	registry *registry.Registry
	gateway  gateway.Gateway
	policy   policy.Policy
	ledger   *ledger.Ledger
	clock    clock.Clock
	journal  journal.Recorder
	metrics  *metrics.Event
	actor    *shed.Actor

	state    atomic.Uint32
	event    *shed.Event
	eventClk *clock.EventClock
	readings atomic.Pointer[shed.Readings]

	// reportMu guards report, which poll and evaluate both append to.
	reportMu sync.Mutex
	report   shed.Report
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source of the event clock.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithJournal sets the journal recorder.
func WithJournal(r journal.Recorder) Option {
	return func(o *Orchestrator) {
		o.journal = r
	}
}

// WithMetrics sets the event metrics.
func WithMetrics(m *metrics.Event) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithActor records who started the event.
func WithActor(a *shed.Actor) Option {
	return func(o *Orchestrator) {
		o.actor = a.Clone()
	}
}

// New creates an orchestrator for one event.
func New(
	settings Settings,
	reg *registry.Registry,
	gw gateway.Gateway,
	pol policy.Policy,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case reg == nil:
		return nil, fmt.Errorf("%w: registry", errMissingDependency)
	case gw == nil:
		return nil, fmt.Errorf("%w: gateway", errMissingDependency)
	case pol == nil:
		return nil, fmt.Errorf("%w: policy", errMissingDependency)
	case settings.Duration <= 0:
		return nil, errInvalidDuration
	}

	o := &Orchestrator{
		settings: settings.withDefaults(),
		registry: reg,
		gateway:  gw,
		policy:   pol,
		ledger:   ledger.New(),
		clock:    clock.Real{},
		journal:  journal.Noop{},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() shed.State {
	return shed.State(o.state.Load())
}

// Event returns the running event, or nil before Run.
func (o *Orchestrator) Event() *shed.Event {
	return o.event
}

// Ledger returns a read-only view of held overrides.
func (o *Orchestrator) Ledger() ledger.View {
	return o.ledger
}

// Readings returns the latest committed readings snapshot.
func (o *Orchestrator) Readings() *shed.Readings {
	return o.readings.Load()
}

// Run executes the event and blocks until it is finalized. Cancelling ctx
// aborts the event early; finalization still runs. The returned report is
// complete whenever the error is nil.
func (o *Orchestrator) Run(ctx context.Context) (*shed.Report, error) {
	if !o.state.CompareAndSwap(uint32(shed.StateIdle), uint32(shed.StateStarting)) {
		return nil, ErrAlreadyStarted
	}

	o.eventClk = clock.NewEventClock(o.clock, o.settings.Duration)
	o.event = shed.NewEvent(o.eventClk.Start(), o.settings.Duration)
	o.report = shed.Report{
		EventID:   o.event.ID,
		Policy:    o.policy.Name(),
		StartedAt: o.event.Start,
	}

	ctx = logger.WithKV(logger.WithName(ctx, "orchestrator"), "event_id", o.event.ID.String())

	logger.InfoKV(ctx, "Event started",
		"policy", o.policy.Name(),
		"duration", o.settings.Duration,
		"devices", o.registry.Len(),
		"actor", o.actor.String(),
	)

	o.journal.Record(journal.Record{
		Timestamp: o.event.Start,
		EventID:   o.event.ID.String(),
		Kind:      journal.KindEventStarted,
		Policy:    o.policy.Name(),
		Actor:     o.actor.String(),
		Duration:  o.settings.Duration,
	})

	o.enter(ctx, shed.StateIdle, shed.StateStarting)
	o.start(ctx)

	if !o.checkAbort(ctx) && !o.checkExpired(ctx) {
		o.enter(ctx, shed.StateStarting, shed.StateMonitoring)
		o.monitor(ctx)
	}

	o.enter(ctx, o.State(), shed.StateExpiring)
	o.finalize(ctx)
	o.enter(ctx, shed.StateExpiring, shed.StateFinalized)

	o.reportMu.Lock()
	report := o.report
	o.reportMu.Unlock()

	logger.InfoKV(ctx, "Event finished", "status", report.Status().String(), "summary", report.Summary())

	return &report, nil
}

// start reads every device and applies the initial overrides.
func (o *Orchestrator) start(ctx context.Context) {
	if !o.readAll(ctx) {
		return
	}

	actions := o.policy.Plan(o.policyInput())
	logger.InfoKV(ctx, "Initial overrides planned", "actions", len(actions))

	o.perform(ctx, actions)

	if o.ledger.IsEmpty() {
		logger.Info(ctx, "No overrides applied")
	}
}

// monitor runs cycles until the event expires or is aborted.
func (o *Orchestrator) monitor(ctx context.Context) {
	for !o.event.Expired() {
		o.cycle(ctx)
		o.metrics.IncCycle()

		o.checkAbort(ctx)
	}
}

// cycle runs poll, evaluate and check-expiry concurrently and joins them.
func (o *Orchestrator) cycle(ctx context.Context) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		g, gctx  = errgroup.WithContext(cycleCtx)
		work     sync.WaitGroup
		workDone = make(chan struct{})
	)

	work.Add(2) //nolint:mnd // Poll and evaluate.

	g.Go(func() error {
		defer work.Done()

		o.poll(gctx)

		return nil
	})

	g.Go(func() error {
		defer work.Done()

		o.evaluate(gctx)

		return nil
	})

	g.Go(func() error {
		work.Wait()
		close(workDone)

		return nil
	})

	g.Go(func() error {
		o.watchExpiry(gctx, workDone, cancel)

		return nil
	})

	_ = g.Wait() //nolint:errcheck // Activities report through the ledger and report, never by error.
}

// poll re-reads every input and then waits for the poll cadence.
func (o *Orchestrator) poll(ctx context.Context) {
	o.readAll(ctx)
	sleep(ctx, o.settings.PollInterval)
}

// evaluate asks the policy for actions, performs them and then waits for the
// evaluation cadence.
func (o *Orchestrator) evaluate(ctx context.Context) {
	held := o.ledger.Len()

	if policy.NeedsEvaluation(o.policy, held) {
		in := o.policyInput()
		actions := o.policy.Decide(in)

		logger.InfoKV(ctx, "Evaluated",
			"held", held,
			"actions", len(actions),
			"elapsed", in.Elapsed.Round(time.Second),
		)

		o.perform(ctx, actions)
	} else {
		logger.Info(ctx, "No overrides held, nothing to evaluate")
	}

	sleep(ctx, o.settings.EvaluateInterval)
}

// watchExpiry samples the event clock until expiry, cancelling the cycle, or
// until the other activities are done.
func (o *Orchestrator) watchExpiry(ctx context.Context, workDone <-chan struct{}, cancel context.CancelFunc) {
	ticker := time.NewTicker(o.settings.ExpiryInterval)
	defer ticker.Stop()

	for {
		if o.checkExpired(ctx) {
			cancel()

			return
		}

		select {
		case <-workDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// checkExpired samples the event clock and marks the event expired once.
func (o *Orchestrator) checkExpired(ctx context.Context) bool {
	elapsed := o.eventClk.Elapsed()
	o.metrics.SetElapsed(elapsed)

	if !o.eventClk.IsExpired() {
		logger.DebugKV(ctx, "Event running", "elapsed", elapsed.Round(time.Second))

		return o.event.Expired()
	}

	if o.event.MarkExpired() {
		logger.InfoKV(ctx, "Event duration elapsed", "elapsed", elapsed.Round(time.Second))
	}

	return true
}

// checkAbort marks the event expired when the caller cancelled the run.
func (o *Orchestrator) checkAbort(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}

	if o.event.MarkExpired() {
		o.reportMu.Lock()
		o.report.Aborted = true
		o.reportMu.Unlock()

		logger.WarnKV(ctx, "Event aborted", "elapsed", o.eventClk.Elapsed().Round(time.Second), "reason", ctx.Err())
	}

	return true
}

// readAll reads every policy input and commits the snapshot when the pass
// completed. It reports whether the pass completed.
func (o *Orchestrator) readAll(ctx context.Context) bool {
	var readings []shed.Reading

	for _, d := range o.registry.Devices() {
		if ctx.Err() != nil {
			return false
		}

		for _, role := range o.policy.Inputs(d) {
			point, ok := d.Point(role)
			if !ok {
				continue
			}

			readings = append(readings, o.read(ctx, point))
		}
	}

	snapshot := shed.NewReadings(o.clock.Now(), readings)
	o.readings.Store(snapshot)

	logger.DebugKV(ctx, "Readings committed", "points", snapshot.Len())

	return true
}

// read performs one gateway read.
func (o *Orchestrator) read(ctx context.Context, point shed.PointRef) shed.Reading {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	started := time.Now()
	value, err := o.gateway.Read(callCtx, point)
	o.metrics.ObserveCall(shed.OpRead, err, time.Since(started))

	reading := shed.Reading{Point: point, Value: value, Err: err, At: o.clock.Now()}

	if err != nil {
		o.failed(ctx, point, shed.OpRead, err)

		return reading
	}

	logger.DebugKV(ctx, "Point read", "point", point.String(), "value", value.String())

	return reading
}

// perform executes policy actions one at a time, stopping between actions
// once ctx is cancelled.
func (o *Orchestrator) perform(ctx context.Context, actions []shed.Action) {
	for i, action := range actions {
		if ctx.Err() != nil {
			logger.InfoKV(ctx, "Stopping before remaining actions", "remaining", len(actions)-i)

			return
		}

		device, err := o.registry.Lookup(action.Device)
		if err != nil {
			logger.WarnKV(ctx, "Decision for unknown device", "device", action.Device)

			continue
		}

		point, ok := device.Point(action.Role)
		if !ok {
			logger.WarnKV(ctx, "Decision for unknown role", "device", action.Device, "role", action.Role)

			continue
		}

		o.metrics.IncAction(action.Kind)
		o.journal.Record(o.decision(point, action))

		logger.InfoKV(ctx, "Policy decision", "action", action.String(), "reason", action.Reason)

		switch action.Kind {
		case shed.ActionOverride:
			o.override(ctx, point, action.Value, device.Priority)
		case shed.ActionRelease:
			o.releaseEarly(ctx, point)
		}
	}
}

// override writes a value and records it in the ledger on success.
func (o *Orchestrator) override(ctx context.Context, point shed.PointRef, value shed.Value, priority int) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	started := time.Now()
	err := o.gateway.Write(callCtx, point, value, priority)
	o.metrics.ObserveCall(shed.OpWrite, err, time.Since(started))

	if err != nil {
		o.failed(ctx, point, shed.OpWrite, err)

		return
	}

	now := o.clock.Now()
	o.ledger.Add(&shed.Override{Point: point, Value: value, Priority: priority, AppliedAt: now})
	o.metrics.SetHeld(o.ledger.Len())

	o.reportMu.Lock()
	o.report.Applied++
	o.reportMu.Unlock()

	rec := o.record(journal.KindOverride, point)
	rec.Value = value.String()
	rec.Priority = priority
	o.journal.Record(rec)

	logger.InfoKV(ctx, "Point overridden", "point", point.String(), "value", value.String(), "priority", priority)
}

// releaseEarly releases a held point on the policy's request, at the priority
// it was written with. A failed release stays in the ledger and is retried at
// finalization.
func (o *Orchestrator) releaseEarly(ctx context.Context, point shed.PointRef) {
	held, ok := o.ledger.Get(point.Device, point.Role)
	if !ok {
		return
	}

	if err := o.release(ctx, point, held.Priority); err != nil {
		o.failed(ctx, point, shed.OpRelease, err)

		return
	}

	o.reportMu.Lock()
	o.report.EarlyReleases++
	o.reportMu.Unlock()

	logger.InfoKV(ctx, "Point released early", "point", point.String(), "priority", held.Priority)
}

// release performs one release call and clears the ledger entry on success.
func (o *Orchestrator) release(ctx context.Context, point shed.PointRef, priority int) error {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	started := time.Now()
	err := o.gateway.Release(callCtx, point, priority)
	o.metrics.ObserveCall(shed.OpRelease, err, time.Since(started))

	if err != nil {
		return err
	}

	o.ledger.Remove(point.Device, point.Role)
	o.metrics.SetHeld(o.ledger.Len())

	rec := o.record(journal.KindRelease, point)
	rec.Priority = priority
	o.journal.Record(rec)

	return nil
}

// finalize releases every held override and shuts the gateway down, once.
func (o *Orchestrator) finalize(ctx context.Context) {
	if !o.event.MarkTerminated() {
		return
	}

	// Releases must go out even after the caller cancelled.
	ctx = context.WithoutCancel(ctx)

	held := o.ledger.All()
	logger.InfoKV(ctx, "Releasing all overrides", "held", len(held))

	for _, ov := range held {
		err := o.release(ctx, ov.Point, ov.Priority)
		if err != nil {
			o.failed(ctx, ov.Point, shed.OpRelease, err)

			o.reportMu.Lock()
			o.report.ReleaseFailures = append(o.report.ReleaseFailures,
				shed.DeviceError{Point: ov.Point, Op: shed.OpRelease, Err: err})
			o.reportMu.Unlock()

			continue
		}

		o.reportMu.Lock()
		o.report.FinalReleases++
		o.reportMu.Unlock()

		logger.InfoKV(ctx, "Point released", "point", ov.Point.String(), "priority", ov.Priority)
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	started := time.Now()
	err := o.gateway.Shutdown(callCtx)
	o.metrics.ObserveCall(shed.OpShutdown, err, time.Since(started))

	if err != nil {
		logger.ErrorKV(ctx, "Gateway shutdown failed", "error", err)

		o.journal.Record(o.failure(shed.PointRef{}, shed.OpShutdown, err))
	} else {
		logger.Info(ctx, "Gateway session closed")
	}

	o.reportMu.Lock()
	o.report.ShutdownErr = err
	o.report.Finalized = true
	o.report.FinishedAt = o.clock.Now()
	status := o.report.Status()
	o.reportMu.Unlock()

	finished := o.record(journal.KindEventFinished, shed.PointRef{})
	finished.Status = status.String()
	o.journal.Record(finished)
}

// failed logs, journals and reports a failed call. Release failures are
// reported by the caller because early ones are retried.
func (o *Orchestrator) failed(ctx context.Context, point shed.PointRef, op shed.Operation, err error) {
	logger.WarnKV(ctx, "Gateway call failed", "op", op, "point", point.String(), "error", err)

	o.journal.Record(o.failure(point, op, err))

	devErr := shed.DeviceError{Point: point, Op: op, Err: err}

	o.reportMu.Lock()
	defer o.reportMu.Unlock()

	switch op {
	case shed.OpRead:
		o.report.ReadErrors = append(o.report.ReadErrors, devErr)
	case shed.OpWrite:
		o.report.WriteErrors = append(o.report.WriteErrors, devErr)
	case shed.OpRelease, shed.OpShutdown:
	}
}

// enter moves to state and reports the transition.
func (o *Orchestrator) enter(ctx context.Context, from, to shed.State) {
	o.state.Store(uint32(to))
	o.metrics.SetState(to)

	rec := o.record(journal.KindState, shed.PointRef{})
	rec.State = to.String()
	o.journal.Record(rec)

	logger.InfoKV(ctx, "State changed", "from", from.String(), "to", to.String())
}

// policyInput assembles the policy view of the event.
func (o *Orchestrator) policyInput() policy.Input {
	return policy.Input{
		Registry: o.registry,
		Readings: o.readings.Load(),
		Ledger:   o.ledger,
		Elapsed:  o.eventClk.Elapsed(),
	}
}

// callContext detaches a gateway call from cancellation and bounds it.
func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.settings.CallTimeout)
}

// record starts a journal record of the given kind for point.
func (o *Orchestrator) record(kind journal.Kind, point shed.PointRef) journal.Record {
	return journal.Record{
		Timestamp: o.clock.Now(),
		EventID:   o.event.ID.String(),
		Kind:      kind,
	}.WithPoint(point)
}

// decision builds the record of one policy action.
func (o *Orchestrator) decision(point shed.PointRef, action shed.Action) journal.Record {
	rec := o.record(journal.KindDecision, point)
	rec.Reason = action.Kind.String() + ": " + action.Reason

	if action.Kind == shed.ActionOverride {
		rec.Value = action.Value.String()
	}

	return rec
}

// failure builds a failure record.
func (o *Orchestrator) failure(point shed.PointRef, op shed.Operation, err error) journal.Record {
	rec := o.record(journal.KindFailure, point)
	rec.Op = string(op)
	rec.Error = err.Error()

	return rec
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
