package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Server holds the reference server instruments.
type Server struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	records  *prometheus.CounterVec
}

// NewServer creates and registers the server instruments on reg.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "records_written_total",
			Help:      "Records accepted by upsert and batch sync, by entity.",
		}, []string{"entity"}),
	}

	reg.MustRegister(m.requests, m.latency, m.records)
	return m
}

// ObserveRequest records a served HTTP request
func (m *Server) ObserveRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method).Observe(d.Seconds())
}

// AddRecords counts records written for entity
func (m *Server) AddRecords(entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(entity).Add(float64(n))
}
