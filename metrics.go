package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts decisions, audit sink failures and lockouts. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	auditFailures *prometheus.CounterVec
	lockouts      prometheus.Counter
	revocations   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenant_auth",
				Name:      "decisions_total",
				Help:      "Auth and authz decisions by event type and outcome.",
			},
			[]string{"event", "outcome"},
		),
		auditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenant_auth",
				Name:      "audit_write_failures_total",
				Help:      "Audit events the sink rejected.",
			},
			[]string{"event"},
		),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tenant_auth",
			Name:      "lockouts_total",
			Help:      "Identities that reached the failed login threshold.",
		}),
		revocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenant_auth",
				Name:      "revocations_total",
				Help:      "Revocations recorded by scope.",
			},
			[]string{"scope"},
		),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.auditFailures, m.lockouts, m.revocations} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) decision(event AuditEventType, outcome Outcome) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(event), string(outcome)).Inc()
}

func (m *Metrics) auditFailure(event AuditEventType) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) revocation(scope RevocationScope) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(string(scope)).Inc()
}

// Decisions exposes the decision counter for scraping in tests and tools
func (m *Metrics) Decisions() *prometheus.CounterVec {
	return m.decisions
}

// AuditFailures exposes the audit failure counter
func (m *Metrics) AuditFailures() *prometheus.CounterVec {
	return m.auditFailures
}

// Lockouts exposes the lockout counter
func (m *Metrics) Lockouts() prometheus.Counter {
	return m.lockouts
}

// Revocations exposes the revocation counter
func (m *Metrics) Revocations() *prometheus.CounterVec {
	return m.revocations
}
