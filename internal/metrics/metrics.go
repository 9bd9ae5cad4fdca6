// Package metrics exposes Prometheus collectors for ingestion and signal runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fintools"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	symbolUpdates    *prometheus.CounterVec
	barsInserted     *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	updateRuns       *prometheus.CounterVec
	updateRunning    prometheus.Gauge
	bhavcopyRows     *prometheus.CounterVec
	signalsPersisted *prometheus.CounterVec
	signalDuration   *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		symbolUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_updates_total",
			Help:      "Per-symbol update outcomes.",
		}, []string{"outcome"}),
		barsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_bars_inserted_total",
			Help:      "Price bars newly stored, by source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candle_fetch_duration_seconds",
			Help:      "Latency of per-symbol candle fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		updateRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_runs_total",
			Help:      "Universe update runs by final status.",
		}, []string{"status"}),
		updateRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_running",
			Help:      "1 while a universe update runs in this process.",
		}),
		bhavcopyRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bhavcopy_rows_total",
			Help:      "Bhav-copy rows by import result.",
		}, []string{"result"}),
		signalsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_persisted_total",
			Help:      "Signal results newly stored, by kind.",
		}, []string{"kind"}),
		signalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signal_evaluation_duration_seconds",
			Help:      "Time to evaluate a signal rule across the universe.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.symbolUpdates,
		m.barsInserted,
		m.fetchDuration,
		m.updateRuns,
		m.updateRunning,
		m.bhavcopyRows,
		m.signalsPersisted,
		m.signalDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveSymbol(outcome string, fetch time.Duration) {
	if m == nil {
		return
	}
	m.symbolUpdates.WithLabelValues(outcome).Inc()
	if fetch > 0 {
		m.fetchDuration.Observe(fetch.Seconds())
	}
}

func (m *Metrics) AddBars(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.barsInserted.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) SetUpdateRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.updateRunning.Set(1)
	} else {
		m.updateRunning.Set(0)
	}
}

func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.updateRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) AddBhavcopyRows(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bhavcopyRows.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ObserveSignals(kind string, inserted int, took time.Duration) {
	if m == nil {
		return
	}
	if inserted > 0 {
		m.signalsPersisted.WithLabelValues(kind).Add(float64(inserted))
	}
	m.signalDuration.WithLabelValues(kind).Observe(took.Seconds())
}
