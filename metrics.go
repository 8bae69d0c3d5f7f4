package tokenauth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives counters for token and authorization outcomes. Outcome
// labels are error text codes, "ok" on success.
type Metrics interface {
	TokenIssued(typ TokenType)
	TokenValidated(expected TokenType, outcome string)
	AuthorizationDecided(allowed bool)
	FederatedResolved(outcome string)
}

const outcomeOK = "ok"

type noopMetrics struct{}

func (noopMetrics) TokenIssued(TokenType)            {}
func (noopMetrics) TokenValidated(TokenType, string) {}
func (noopMetrics) AuthorizationDecided(bool)        {}
func (noopMetrics) FederatedResolved(string)         {}

func resolveMetrics(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// PrometheusMetrics implements Metrics with prometheus counters.
type PrometheusMetrics struct {
	issued    *prometheus.CounterVec
	validated *prometheus.CounterVec
	decisions *prometheus.CounterVec
	federated *prometheus.CounterVec
}

// NewPrometheusMetrics creates the counters and registers them on reg. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued, by token type.",
		}, []string{"type"}),
		validated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Token validations, by expected type and outcome.",
		}, []string{"type", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization decisions, by result.",
		}, []string{"result"}),
		federated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federated_resolutions_total",
			Help:      "Federated identity resolutions, by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.issued, m.validated, m.decisions, m.federated} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) TokenIssued(typ TokenType) {
	m.issued.WithLabelValues(string(typ)).Inc()
}

func (m *PrometheusMetrics) TokenValidated(expected TokenType, outcome string) {
	if outcome == "" {
		outcome = outcomeOK
	}
	m.validated.WithLabelValues(string(expected), outcome).Inc()
}

func (m *PrometheusMetrics) AuthorizationDecided(allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.decisions.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) FederatedResolved(outcome string) {
	m.federated.WithLabelValues(outcome).Inc()
}
