package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oshokin/loadshed/internal/domain/shed"
)

const namespace = "loadshed"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Event holds the collectors describing one event run.
type Event struct {
	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	actions     *prometheus.CounterVec
	held        prometheus.Gauge
	state       *prometheus.GaugeVec
	cycles      prometheus.Counter
	elapsed     prometheus.Gauge
}

// NewEvent creates the event collectors and registers them on reg.
func NewEvent(reg prometheus.Registerer) *Event {
	m := &Event{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Gateway call latency by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_actions_total",
			Help:      "Actions requested by the evaluation policy.",
		}, []string{"kind"}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overrides_held",
			Help:      "Overrides currently recorded in the ledger.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current orchestrator state (1 for the active state).",
		}, []string{"state"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitoring_cycles_total",
			Help:      "Completed monitoring cycles.",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_elapsed_seconds",
			Help:      "Time since the event started.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.calls, m.callLatency, m.actions, m.held, m.state, m.cycles, m.elapsed)
	}

	return m
}

// ObserveCall records one gateway call.
func (m *Event) ObserveCall(op shed.Operation, err error, took time.Duration) {
	if m == nil {
		return
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}

	m.calls.WithLabelValues(string(op), outcome).Inc()
	m.callLatency.WithLabelValues(string(op)).Observe(took.Seconds())
}

// IncAction counts a policy action.
func (m *Event) IncAction(kind shed.ActionKind) {
	if m == nil {
		return
	}

	m.actions.WithLabelValues(kind.String()).Inc()
}

// SetHeld sets the number of held overrides.
func (m *Event) SetHeld(n int) {
	if m == nil {
		return
	}

	m.held.Set(float64(n))
}

// SetState marks state as the active one.
func (m *Event) SetState(state shed.State) {
	if m == nil {
		return
	}

	for s := shed.StateIdle; s <= shed.StateFinalized; s++ {
		value := 0.0
		if s == state {
			value = 1
		}

		m.state.WithLabelValues(s.String()).Set(value)
	}
}

// IncCycle counts a finished monitoring cycle.
func (m *Event) IncCycle() {
	if m == nil {
		return
	}

	m.cycles.Inc()
}

// SetElapsed records the elapsed event time.
func (m *Event) SetElapsed(d time.Duration) {
	if m == nil {
		return
	}

	m.elapsed.Set(d.Seconds())
}
