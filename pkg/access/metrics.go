package access

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments decisions and usage records. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	decisions      *prometheus.CounterVec
	adminOverrides prometheus.Counter
	degraded       *prometheus.CounterVec
	records        *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Subsystem: "access",
				Name:      "decisions_total",
				Help:      "Access decisions by reason and state",
			},
			[]string{"reason", "state"},
		),
		adminOverrides: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Subsystem: "access",
				Name:      "admin_overrides_total",
				Help:      "Decisions granted through the administrator override",
			},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Subsystem: "access",
				Name:      "degraded_total",
				Help:      "Decisions made with a failed dependency, by dependency",
			},
			[]string{"dependency"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Subsystem: "usage",
				Name:      "records_total",
				Help:      "Usage record attempts by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.decisions, m.adminOverrides, m.degraded, m.records)
	return m
}

func (m *Metrics) decision(d Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Reason), string(d.State)).Inc()
	if d.Reason == ReasonAdminOverride {
		m.adminOverrides.Inc()
	}
}

func (m *Metrics) degradedDependency(dep string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(dep).Inc()
}

func (m *Metrics) record(result string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(result).Inc()
}
