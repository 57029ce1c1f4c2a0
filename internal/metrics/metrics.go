package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a workflow run
type Metrics struct {
	// Agent invocation metrics
	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	InvocationAttempts *prometheus.HistogramVec

	// Phase state machine metrics
	PhaseTransitions *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec

	// Component pipeline metrics
	ComponentOutcomes  *prometheus.CounterVec
	ValidationAttempts *prometheus.CounterVec
	IssuesFound        *prometheus.CounterVec

	// Voting metrics
	Votes       *prometheus.CounterVec
	Escalations *prometheus.CounterVec

	// Persistence metrics
	StateWrites *prometheus.CounterVec

	// Errors by structured error code
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_agent_invocations_total",
				Help: "Total number of agent invocations",
			},
			[]string{"agent", "tier", "success", "classification"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestra_agent_invocation_duration_seconds",
				Help:    "Agent invocation duration in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"agent", "tier"},
		),
		InvocationAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestra_agent_invocation_attempts",
				Help:    "Attempts consumed per agent invocation, retries included",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"agent"},
		),

		PhaseTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_phase_transitions_total",
				Help: "Total number of phase status transitions",
			},
			[]string{"phase", "status"},
		),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestra_phase_duration_seconds",
				Help:    "Phase execution duration in seconds",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
			},
			[]string{"phase"},
		),

		ComponentOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_component_outcomes_total",
				Help: "Total number of components reaching a terminal status",
			},
			[]string{"status"},
		),
		ValidationAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_validation_attempts_total",
				Help: "Total number of validation rounds",
			},
			[]string{"passed"},
		),
		IssuesFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_validation_issues_total",
				Help: "Total number of deduplicated issues reported by validators",
			},
			[]string{"severity"},
		),

		Votes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_votes_total",
				Help: "Total number of consensus gate runs",
			},
			[]string{"gate", "consensus", "method"},
		),
		Escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_escalations_total",
				Help: "Total number of escalations requiring an external decision",
			},
			[]string{"reason"},
		),

		StateWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_state_writes_total",
				Help: "Total number of state persistence operations",
			},
			[]string{"kind", "success"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code"},
		),
	}
}

// RecordInvocation records one finished agent call
func (m *Metrics) RecordInvocation(agent, tier string, success bool, classification string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(agent, tier, strconv.FormatBool(success), classification).Inc()
	m.InvocationDuration.WithLabelValues(agent, tier).Observe(duration.Seconds())
	if attempts > 0 {
		m.InvocationAttempts.WithLabelValues(agent).Observe(float64(attempts))
	}
}

// RecordPhase records a phase status transition
func (m *Metrics) RecordPhase(phase, status string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(phase, status).Inc()
}

// RecordPhaseDuration records how long a phase ran
func (m *Metrics) RecordPhaseDuration(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordComponent records a component reaching a terminal status
func (m *Metrics) RecordComponent(status string) {
	if m == nil {
		return
	}
	m.ComponentOutcomes.WithLabelValues(status).Inc()
}

// RecordValidation records one validation round and the issues it produced
func (m *Metrics) RecordValidation(passed bool, issuesBySeverity map[string]int) {
	if m == nil {
		return
	}
	m.ValidationAttempts.WithLabelValues(strconv.FormatBool(passed)).Inc()
	for severity, n := range issuesBySeverity {
		m.IssuesFound.WithLabelValues(severity).Add(float64(n))
	}
}

// RecordVote records a consensus gate outcome
func (m *Metrics) RecordVote(gate string, consensus bool, method string) {
	if m == nil {
		return
	}
	m.Votes.WithLabelValues(gate, strconv.FormatBool(consensus), method).Inc()
}

// RecordEscalation records an escalation
func (m *Metrics) RecordEscalation(reason string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(reason).Inc()
}

// RecordStateWrite records a persistence operation
func (m *Metrics) RecordStateWrite(kind string, success bool) {
	if m == nil {
		return
	}
	m.StateWrites.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

// RecordError records an error by code
func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(code).Inc()
}
