package sim

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway"
)

// PointID addresses a simulated point by device address and point identifier.
type PointID struct {
	Address string
	Point   string
}

// String renders the identifier as "address point".
func (p PointID) String() string {
	return p.Address + " " + p.Point
}

// ParsePointID parses the "address point" form produced by String.
func ParsePointID(s string) (PointID, bool) {
	address, point, found := strings.Cut(strings.TrimSpace(s), " ")
	if !found || address == "" || strings.TrimSpace(point) == "" {
		return PointID{}, false
	}

	return PointID{Address: address, Point: strings.TrimSpace(point)}, true
}

// PointState is the priority array of one point.
type PointState struct {
	// ID identifies the point.
	ID PointID
	// Default is the relinquish default.
	Default shed.Value
	// Levels holds commands indexed by priority-1; zero values are empty slots.
	Levels [shed.MaxPriority]shed.Value
}

// Present returns the value the controller would act on.
func (s *PointState) Present() shed.Value {
	for _, v := range s.Levels {
		if !v.IsZero() {
			return v
		}
	}

	return s.Default
}

// Call is one recorded gateway call.
type Call struct {
	Op       shed.Operation
	Point    PointID
	Value    shed.Value
	Priority int
	Err      error
}

// Simulator is an in-memory Gateway. Safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	points   map[PointID]*PointState
	failures map[failureKey]error
	delays   map[failureKey]time.Duration
	calls    []Call
	closed   bool
	// onChange is invoked after writes and releases, outside the lock.
	onChange func(ctx context.Context)
}

// failureKey selects the calls an injected failure applies to.
type failureKey struct {
	op    shed.Operation
	point PointID
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithOnChange registers a hook run after every successful write or release.
func WithOnChange(fn func(ctx context.Context)) Option {
	return func(s *Simulator) {
		s.onChange = fn
	}
}

// New returns an empty simulator.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		points:   make(map[PointID]*PointState),
		failures: make(map[failureKey]error),
		delays:   make(map[failureKey]time.Duration),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Seed creates the point if needed and sets its relinquish default.
func (s *Simulator) Seed(address, point string, value shed.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state(PointID{Address: address, Point: point}).Default = value
}

// Fail makes every later op on the point return err. A nil err clears it.
// An empty address and point apply the failure to every point.
func (s *Simulator) Fail(op shed.Operation, address, point string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := failureKey{op: op, point: PointID{Address: address, Point: point}}
	if err == nil {
		delete(s.failures, key)

		return
	}

	s.failures[key] = err
}

// Delay makes every later op on the point take d before it is applied. A call
// whose context ends first fails with ErrUnavailable. A zero d clears it.
// An empty address and point apply the delay to every point.
func (s *Simulator) Delay(op shed.Operation, address, point string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := failureKey{op: op, point: PointID{Address: address, Point: point}}
	if d <= 0 {
		delete(s.delays, key)

		return
	}

	s.delays[key] = d
}

// Calls returns a copy of the recorded calls.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.calls)
}

// CallsOf returns the recorded calls of one operation.
func (s *Simulator) CallsOf(op shed.Operation) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call

	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}

	return out
}

// Point returns a copy of the priority array of a point.
func (s *Simulator) Point(address, point string) (PointState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.points[PointID{Address: address, Point: point}]
	if !ok {
		return PointState{}, false
	}

	return *st, true
}

// Snapshot returns copies of every point ordered by identifier.
func (s *Simulator) Snapshot() []PointState {
	s.mu.Lock()

	out := make([]PointState, 0, len(s.points))
	for _, st := range s.points {
		out = append(out, *st)
	}

	s.mu.Unlock()

	slices.SortFunc(out, func(a, b PointState) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return out
}

// Restore replaces every point with the given states.
func (s *Simulator) Restore(states []PointState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = make(map[PointID]*PointState, len(states))
	for i := range states {
		st := states[i]
		s.points[st.ID] = &st
	}
}

// Closed reports whether Shutdown was called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Read implements gateway.Gateway.
func (s *Simulator) Read(ctx context.Context, ref shed.PointRef) (shed.Value, error) {
	id := PointID{Address: ref.Address, Point: ref.Point}

	latency := s.wait(ctx, shed.OpRead, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cmp.Or(latency, s.precheck(ctx, shed.OpRead, id)); err != nil {
		s.record(Call{Op: shed.OpRead, Point: id, Err: err})

		return shed.Value{}, err
	}

	st, ok := s.points[id]
	if !ok {
		err := fmt.Errorf("%w: %s", gateway.ErrUnknownPoint, id)
		s.record(Call{Op: shed.OpRead, Point: id, Err: err})

		return shed.Value{}, err
	}

	value := st.Present()
	s.record(Call{Op: shed.OpRead, Point: id, Value: value})

	return value, nil
}

// Write implements gateway.Gateway.
func (s *Simulator) Write(ctx context.Context, ref shed.PointRef, value shed.Value, priority int) error {
	err := s.command(ctx, shed.OpWrite, ref, value, priority)
	if err == nil && s.onChange != nil {
		s.onChange(ctx)
	}

	return err
}

// Release implements gateway.Gateway.
func (s *Simulator) Release(ctx context.Context, ref shed.PointRef, priority int) error {
	err := s.command(ctx, shed.OpRelease, ref, shed.Value{}, priority)
	if err == nil && s.onChange != nil {
		s.onChange(ctx)
	}

	return err
}

// Shutdown implements gateway.Gateway. It is idempotent.
func (s *Simulator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(shed.OpShutdown, PointID{}); err != nil {
		s.record(Call{Op: shed.OpShutdown, Err: err})

		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
	}

	s.closed = true
	s.record(Call{Op: shed.OpShutdown})

	return nil
}

// command sets or clears one priority level.
func (s *Simulator) command(
	ctx context.Context,
	op shed.Operation,
	ref shed.PointRef,
	value shed.Value,
	priority int,
) error {
	id := PointID{Address: ref.Address, Point: ref.Point}

	latency := s.wait(ctx, op, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: op, Point: id, Value: value, Priority: priority}

	err := cmp.Or(latency, s.precheck(ctx, op, id))
	if err == nil {
		err = gateway.CheckPriority(priority)
	}

	if err != nil {
		call.Err = err
		s.record(call)

		return err
	}

	st, ok := s.points[id]
	if !ok {
		call.Err = fmt.Errorf("%w: %s", gateway.ErrUnknownPoint, id)
		s.record(call)

		return call.Err
	}

	if op == shed.OpWrite && !st.Default.IsZero() && st.Default.Kind != value.Kind {
		call.Err = fmt.Errorf("%w: %s is %s, got %s", gateway.ErrInvalidValue, id, st.Default.Kind, value.Kind)
		s.record(call)

		return call.Err
	}

	// Release stores the zero value, which empties the slot.
	st.Levels[priority-1] = value
	s.record(call)

	return nil
}

// precheck returns the error a call must fail with before touching state.
func (s *Simulator) precheck(ctx context.Context, op shed.Operation, id PointID) error {
	if s.closed {
		return gateway.ErrClosed
	}

	if err := s.injected(op, id); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
	}

	return nil
}

// wait sleeps for the configured delay of the call, outside the lock. It
// fails when ctx ends first.
func (s *Simulator) wait(ctx context.Context, op shed.Operation, id PointID) error {
	s.mu.Lock()

	d, ok := s.delays[failureKey{op: op, point: id}]
	if !ok {
		d = s.delays[failureKey{op: op}]
	}

	s.mu.Unlock()

	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// injected returns the configured failure for the call, if any.
func (s *Simulator) injected(op shed.Operation, id PointID) error {
	if err, ok := s.failures[failureKey{op: op, point: id}]; ok {
		return err
	}

	if err, ok := s.failures[failureKey{op: op}]; ok {
		return err
	}

	return nil
}

// record appends a call; the lock must be held.
func (s *Simulator) record(c Call) {
	s.calls = append(s.calls, c)
}

// state returns the point, creating it; the lock must be held.
func (s *Simulator) state(id PointID) *PointState {
	st, ok := s.points[id]
	if !ok {
		st = &PointState{ID: id}
		s.points[id] = st
	}

	return st
}

// DefaultAnalog is the relinquish default SeedDevice gives analog points.
const DefaultAnalog = 72.0

// DefaultValue returns the value SeedDevice gives a role: stage outputs start
// active, everything else starts at DefaultAnalog.
func DefaultValue(role shed.Role) shed.Value {
	if _, ok := role.StageNumber(); ok {
		return shed.Binary(true)
	}

	return shed.Analog(DefaultAnalog)
}

// SeedDevice creates every point of d that does not exist yet, using value
// (or DefaultValue when nil) for the relinquish default.
func (s *Simulator) SeedDevice(d *shed.Device, value func(shed.Role) shed.Value) {
	if value == nil {
		value = DefaultValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for role, point := range d.Points {
		id := PointID{Address: d.Address, Point: point}
		if _, ok := s.points[id]; ok {
			continue
		}

		s.state(id).Default = value(role)
	}
}

// SeedValues sets relinquish defaults from "address point" -> value text,
// as found in the simulator configuration.
func (s *Simulator) SeedValues(values map[string]string) error {
	for key, text := range values {
		id, ok := ParsePointID(key)
		if !ok {
			return fmt.Errorf("%w: point %q", gateway.ErrUnknownPoint, key)
		}

		value, err := shed.ParseValue(text)
		if err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}

		s.Seed(id.Address, id.Point, value)
	}

	return nil
}
