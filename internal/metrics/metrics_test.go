package metrics

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

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObserveSymbol("updated", 120*time.Millisecond)
	m.ObserveSymbol("updated", 0)
	m.ObserveSymbol("failed", 0)
	m.AddBars("upstox", 42)
	m.AddBars("upstox", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.symbolUpdates.WithLabelValues("updated")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.barsInserted.WithLabelValues("upstox")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fintools_symbol_updates_total"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSymbol("updated", time.Second)
		m.AddBars("bhavcopy", 3)
		m.SetUpdateRunning(true)
		m.ObserveRun("completed")
		m.AddBhavcopyRows("inserted", 1)
		m.ObserveSignals("proximity", 1, time.Second)
	})
}
