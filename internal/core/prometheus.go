package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports service timings and outcomes through a
// Prometheus registry, typically served at /metrics by cmd/consoled.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the console collectors with the
// supplied registerer (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wastageops",
			Name:      "operation_duration_seconds",
			Help:      "Duration of console operations against the warehouse.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wastageops",
			Name:      "operation_results_total",
			Help:      "Console operation outcomes by type.",
		}, []string{"op", "outcome"}),
	}
	reg.MustRegister(r.durations, r.results)
	return r
}

// ObserveDuration implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) ObserveDuration(op string, d time.Duration) {
	r.durations.WithLabelValues(op).Observe(d.Seconds())
}

// IncResult implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) IncResult(op, outcome string) {
	r.results.WithLabelValues(op, outcome).Inc()
}
