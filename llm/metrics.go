package llm

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics counts gated LLM calls. A nil *Metrics records nothing.
type Metrics struct {
	calls   *prom.CounterVec
	latency *prom.HistogramVec
	tokens  *prom.CounterVec
	denials prom.Counter
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prom.Registerer) *Metrics {
	m := &Metrics{
		calls: prom.NewCounterVec(prom.CounterOpts{
			Name: "llm_calls_total",
			Help: "Gated LLM calls by operation and outcome.",
		}, []string{"operation", "status"}),
		latency: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "llm_call_latency_seconds",
			Help:    "Latency of LLM provider calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"operation"}),
		tokens: prom.NewCounterVec(prom.CounterOpts{
			Name: "llm_token_usage_total",
			Help: "Tokens reported by the LLM provider.",
		}, []string{"operation"}),
		denials: prom.NewCounter(prom.CounterOpts{
			Name: "usage_denials_total",
			Help: "Requests refused by the usage gate.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.latency, m.tokens, m.denials)
	}
	return m
}

func (m *Metrics) observeCall(operation, status string, took time.Duration, tokens *int) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(took.Seconds())
	if tokens != nil {
		m.tokens.WithLabelValues(operation).Add(float64(*tokens))
	}
}

func (m *Metrics) observeDenial(operation string) {
	if m == nil {
		return
	}
	m.denials.Inc()
	m.calls.WithLabelValues(operation, "denied").Inc()
}
