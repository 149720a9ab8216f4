package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	RiskLevels        *prometheus.CounterVec
	TurnOutcomes      *prometheus.CounterVec
	LLMErrors         *prometheus.CounterVec
	SanitizerRewrites prometheus.Counter
	MalformedEvents   prometheus.Counter
	SummaryRefreshes  *prometheus.CounterVec
	RateLimited       *prometheus.CounterVec
	ActiveStreams     prometheus.Gauge
	ModelLatency      *prometheus.HistogramVec
	FirstDeltaLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RiskLevels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_level_total",
			Help:      "Classified user turns by risk level.",
		}, []string{"level"}),
		TurnOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "Chat turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		LLMErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Model gateway failures by operation and code.",
		}, []string{"op", "code"}),
		SanitizerRewrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitizer_rewrites_total",
			Help:      "Model outputs replaced by the output sanitizer.",
		}),
		MalformedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_malformed_events_total",
			Help:      "Skipped stream events that were not valid JSON.",
		}),
		SummaryRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_refreshes_total",
			Help:      "Summary refresh attempts by result.",
		}, []string{"result"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user limiter.",
		}, []string{"route"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of in-flight streaming replies.",
		}),
		ModelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_ms",
			Help:      "Model call latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"op"}),
		FirstDeltaLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_delta_latency_ms",
			Help:      "Latency to the first streamed delta in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
	}
}

func (m *Metrics) ObserveModelLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFirstDelta(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstDeltaLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
