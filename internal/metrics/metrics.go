// Package metrics exposes Prometheus instruments for the sync engine and the
// reference server. All methods are safe on a nil receiver so components can
// run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jobsync"

// Sync pass outcomes
const (
	ResultSynced   = "synced"
	ResultConflict = "conflict"
	ResultError    = "error"
	ResultOffline  = "offline"
	ResultSkipped  = "skipped"
)

// Engine holds the client-side instruments.
type Engine struct {
	passes     *prometheus.CounterVec
	duration   prometheus.Histogram
	pushed     prometheus.Counter
	dropped    prometheus.Counter
	corrupted  prometheus.Counter
	queueDepth *prometheus.GaugeVec
	conflicts  *prometheus.GaugeVec
}

// NewEngine creates and registers the engine instruments on reg.
func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "sync_passes_total",
			Help:      "Reconciliation passes by outcome.",
		}, []string{"entity", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "records_pushed_total",
			Help:      "Records confirmed by the server.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_dropped_total",
			Help:      "Queued operations dropped after exhausting retries.",
		}),
		corrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "corrupted_records_total",
			Help:      "Records whose checksum did not match on verification.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Operations waiting in the queue.",
		}, []string{"entity"}),
		conflicts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "unresolved_conflicts",
			Help:      "Conflict pairs awaiting a decision.",
		}, []string{"entity"}),
	}

	reg.MustRegister(m.passes, m.duration, m.pushed, m.dropped, m.corrupted, m.queueDepth, m.conflicts)
	return m
}

// ObservePass records a finished reconciliation pass
func (m *Engine) ObservePass(entity, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(entity, result).Inc()
	if result != ResultSkipped {
		m.duration.Observe(d.Seconds())
	}
}

// AddPushed counts records confirmed by the server
func (m *Engine) AddPushed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pushed.Add(float64(n))
}

// IncDropped counts an operation dropped after retry exhaustion
func (m *Engine) IncDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// AddCorrupted counts records failing checksum verification
func (m *Engine) AddCorrupted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.corrupted.Add(float64(n))
}

// SetQueueDepth records the current queue length
func (m *Engine) SetQueueDepth(entity string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(entity).Set(float64(n))
}

// SetConflicts records the number of unresolved conflicts
func (m *Engine) SetConflicts(entity string, n int) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(entity).Set(float64(n))
}
