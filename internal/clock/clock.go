package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a time source.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock. Values returned by time.Now carry a monotonic
// reading, so elapsed durations are not affected by wall-clock steps.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// EventClock tracks elapsed time for one event.
type EventClock struct {
	source   Clock
	start    time.Time
	duration time.Duration
	expired  atomic.Bool
}

// NewEventClock starts measuring from the current time of source.
func NewEventClock(source Clock, duration time.Duration) *EventClock {
	if source == nil {
		source = Real{}
	}

	return &EventClock{
		source:   source,
		start:    source.Now(),
		duration: duration,
	}
}

// Start returns the time the event clock started.
func (c *EventClock) Start() time.Time {
	return c.start
}

// Duration returns the configured event duration.
func (c *EventClock) Duration() time.Duration {
	return c.duration
}

// Elapsed returns the time since start, never negative.
func (c *EventClock) Elapsed() time.Duration {
	elapsed := c.source.Now().Sub(c.start)
	if elapsed < 0 {
		return 0
	}

	return elapsed
}

// Remaining returns the time left until expiry, never negative.
func (c *EventClock) Remaining() time.Duration {
	if c.IsExpired() {
		return 0
	}

	return c.duration - c.Elapsed()
}

// IsExpired reports whether the event duration has been reached.
func (c *EventClock) IsExpired() bool {
	if c.expired.Load() {
		return true
	}

	if c.Elapsed() >= c.duration {
		c.expired.Store(true)

		return true
	}

	return false
}

// Manual is a Clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

// Advance moves the clock by d, which may be negative.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
