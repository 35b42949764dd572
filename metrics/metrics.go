// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "derivsim"

// Metrics is safe to use as a nil pointer; every method then does nothing.
type Metrics struct {
	Orders        *prometheus.CounterVec
	MarginCalls   *prometheus.CounterVec
	Variation     prometheus.Counter
	SweepDuration prometheus.Histogram
	SweepFailures *prometheus.CounterVec
	Accounts      prometheus.Gauge

	registry *prometheus.Registry
}

// New registers the engine metrics on reg. A nil reg gets a fresh registry,
// so several engines can coexist in one process.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "total",
				Help:      "Orders by instrument kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		MarginCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "margin",
				Name:      "calls_total",
				Help:      "Margin call transitions by status",
			},
			[]string{"status"},
		),
		Variation: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "margin",
				Name:      "variation_abs_total",
				Help:      "Absolute variation margin moved by marks",
			},
		),
		SweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "sweep_duration_seconds",
				Help:      "Daily settlement sweep duration",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SweepFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "account_failures_total",
				Help:      "Accounts skipped by a settlement sweep",
			},
			[]string{"reason"},
		),
		Accounts: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accounts",
				Help:      "Margin accounts known to the engine",
			},
		),
		registry: reg,
	}
}

func (m *Metrics) ObserveOrder(kind, outcome string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveMarginCall(status string) {
	if m == nil {
		return
	}
	m.MarginCalls.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveVariation(abs float64) {
	if m == nil || abs <= 0 {
		return
	}
	m.Variation.Add(abs)
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSweepFailure(reason string) {
	if m == nil {
		return
	}
	m.SweepFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetAccounts(n int) {
	if m == nil {
		return
	}
	m.Accounts.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
