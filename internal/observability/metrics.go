package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the console. All methods are
// safe on a nil receiver so components can run without metrics.
type Metrics struct {
	agentInvocations *prometheus.CounterVec
	agentDuration    prometheus.Histogram
	rejectedSubmits  *prometheus.CounterVec
	configSaves      *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg and panics on duplicate
// registration.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		agentInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agent_console",
				Subsystem: "session",
				Name:      "agent_invocations_total",
				Help:      "Agent invocations by outcome.",
			},
			[]string{"outcome"},
		),
		agentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agent_console",
				Subsystem: "session",
				Name:      "agent_invocation_duration_seconds",
				Help:      "Wall time of agent invocations.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		rejectedSubmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agent_console",
				Subsystem: "session",
				Name:      "rejected_submissions_total",
				Help:      "Submissions rejected before reaching the agent.",
			},
			[]string{"reason"},
		),
		configSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agent_console",
				Subsystem: "settings",
				Name:      "saves_total",
				Help:      "Configuration document saves by result.",
			},
			[]string{"result"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agent_console",
				Subsystem: "session",
				Name:      "active",
				Help:      "Number of live UI sessions.",
			},
		),
	}
	reg.MustRegister(m.agentInvocations, m.agentDuration, m.rejectedSubmits, m.configSaves, m.sessionsActive)
	return m
}

func (m *Metrics) ObserveAgentInvocation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.agentInvocations.WithLabelValues(outcome).Inc()
	m.agentDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RejectSubmission(reason string) {
	if m == nil {
		return
	}
	m.rejectedSubmits.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveConfigSave(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.configSaves.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(count))
}
