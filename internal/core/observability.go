package core

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder receives operation timing and outcome counters from the
// reconciliation service.
type MetricsRecorder interface {
	ObserveDuration(op string, d time.Duration)
	IncResult(op, outcome string)
}

// NoopMetrics drops everything. Used when callers opt out of metrics.
type NoopMetrics struct{}

// ObserveDuration implements MetricsRecorder.
func (NoopMetrics) ObserveDuration(string, time.Duration) {}

// IncResult implements MetricsRecorder.
func (NoopMetrics) IncResult(string, string) {}

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and result counters via
// expvar for deployments that prefer process-local metrics without external
// dependencies. Totals are kept in milliseconds per operation alongside
// per-outcome counters.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
}

// ExpvarMetricsSnapshot is a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder published
// under the supplied name. An empty name gets a unique generated one.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("console_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// ObserveDuration implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) ObserveDuration(op string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[op] += float64(d) / float64(time.Millisecond)
}

// IncResult implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) IncResult(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.results[op]
	if !ok {
		m = make(map[string]int64)
		r.results[op] = m
	}
	m[outcome]++
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := ExpvarMetricsSnapshot{
		DurationsMS: make(map[string]float64, len(r.durations)),
		Results:     make(map[string]map[string]int64, len(r.results)),
		RecordedAt:  time.Now().UTC(),
	}
	for op, total := range r.durations {
		snap.DurationsMS[op] = total
	}
	for op, outcomes := range r.results {
		m := make(map[string]int64, len(outcomes))
		for k, v := range outcomes {
			m[k] = v
		}
		snap.Results[op] = m
	}
	return snap
}
