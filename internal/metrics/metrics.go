// Package metrics registers the Prometheus collectors every component
// feeds, ambient observability carried even though spec.md never asks for
// it as a user-facing feature. Grounded on the pack's Prometheus usage
// (registry-backed counters/gauges/histograms, one /metrics handler).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the core components record against.
type Metrics struct {
	registry *prometheus.Registry

	SensorReadDuration  *prometheus.HistogramVec
	SensorReadFailures  *prometheus.CounterVec
	RelayMutations      *prometheus.CounterVec
	BreakerOpen         prometheus.Gauge
	RuleFirings         *prometheus.CounterVec
	TimeseriesBatchSize prometheus.Histogram
	ConfigReloads       *prometheus.CounterVec
}

// New builds and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SensorReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayctl",
			Subsystem: "sensor",
			Name:      "read_duration_seconds",
			Help:      "Duration of a single sensor read, by source id.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source_id"}),
		SensorReadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "sensor",
			Name:      "read_failures_total",
			Help:      "Count of failed sensor reads, by source id.",
		}, []string{"source_id"}),
		RelayMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "relay",
			Name:      "mutations_total",
			Help:      "Count of relay state mutations, by relay id and outcome.",
		}, []string{"relay_id", "outcome"}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relayctl",
			Subsystem: "timeseries",
			Name:      "breaker_open",
			Help:      "1 if the time-series sink's circuit breaker is open, else 0.",
		}),
		RuleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "rules",
			Name:      "firings_total",
			Help:      "Count of rule edge transitions, by rule id and edge direction.",
		}, []string{"rule_id", "edge"}),
		TimeseriesBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayctl",
			Subsystem: "timeseries",
			Name:      "batch_size",
			Help:      "Number of samples flushed per batch to the time-series store.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100},
		}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Count of configuration load/reload attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.SensorReadDuration, m.SensorReadFailures, m.RelayMutations,
		m.BreakerOpen, m.RuleFirings, m.TimeseriesBatchSize, m.ConfigReloads,
	)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
