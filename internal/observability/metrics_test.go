package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsInstancesAreIndependent(t *testing.T) {
	a := NewMetrics("solace")
	b := NewMetrics("solace")

	a.RiskLevels.WithLabelValues("HIGH").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.RiskLevels.WithLabelValues("HIGH")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RiskLevels.WithLabelValues("HIGH")))
}

func TestMetricsHandlerExposesInstruments(t *testing.T) {
	m := NewMetrics("solace_test")
	m.SanitizerRewrites.Inc()
	m.ObserveModelLatency("complete", 300*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "solace_test_sanitizer_rewrites_total 1")
	assert.Contains(t, string(body), `solace_test_model_latency_ms_count{op="complete"} 1`)
}

func TestNilMetricsObserversAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveModelLatency("stream", time.Second)
	m.ObserveFirstDelta(time.Second)
}
