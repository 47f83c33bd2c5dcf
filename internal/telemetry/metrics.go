package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the per-call Prometheus series of the dispatch core.
type Metrics struct {
	calls    *prometheus.CounterVec
	cost     *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// CallObservation is what one finished call reports.
type CallObservation struct {
	LLMKey          string
	Outcome         string
	Duration        time.Duration
	Cost            float64
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
}

// NewMetrics registers the series on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_llm_calls_total",
			Help: "Model calls by logical key and outcome.",
		}, []string{"llm_key", "outcome"}),
		cost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_llm_cost_usd_total",
			Help: "Computed model spend in USD.",
		}, []string{"llm_key"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_llm_tokens_total",
			Help: "Tokens by logical key and kind.",
		}, []string{"llm_key", "kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelgate_llm_call_duration_seconds",
			Help:    "Wall time of model calls.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"llm_key"}),
	}
}

// Observe records one call. Safe on a nil receiver.
func (m *Metrics) Observe(o CallObservation) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(o.LLMKey, o.Outcome).Inc()
	m.duration.WithLabelValues(o.LLMKey).Observe(o.Duration.Seconds())
	if o.Cost > 0 {
		m.cost.WithLabelValues(o.LLMKey).Add(o.Cost)
	}
	for kind, n := range map[string]int64{
		"input":     o.InputTokens,
		"output":    o.OutputTokens,
		"reasoning": o.ReasoningTokens,
		"cached":    o.CachedTokens,
	} {
		if n > 0 {
			m.tokens.WithLabelValues(o.LLMKey, kind).Add(float64(n))
		}
	}
}
