// internal/observability/metrics_test.go
package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics("webpilot_test")

	m.ObserveStep("CLICK", "success", 300*time.Millisecond)
	m.ObserveStep("CLICK", "success", 200*time.Millisecond)
	m.ObserveStep("TYPE", "error", time.Second)
	m.IncRun("DONE")
	m.IncInterrupt()
	m.IncAnnotateFailure()
	m.ObservePrediction("ok", 50*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("CLICK", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("TYPE", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("DONE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.interruptsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.annotateFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictions.WithLabelValues("ok")))
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStep("CLICK", "success", time.Second)
		m.IncRun("DONE")
		m.IncInterrupt()
		m.IncAnnotateFailure()
		m.ObservePrediction("ok", time.Second)
	})
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("webpilot_http")
	m.IncRun("ABORTED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `webpilot_http_runs_total{status="ABORTED"} 1`))
}
