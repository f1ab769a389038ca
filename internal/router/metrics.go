package router

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// emaAlpha is the smoothing factor for the latency moving average.
const emaAlpha = 0.1

// MetricsSnapshot is the diagnostics view returned by the getMetrics
// pseudo-command.
type MetricsSnapshot struct {
	TotalDispatched int64   `json:"totalDispatched"`
	TotalErrors     int64   `json:"totalErrors"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
}

// Metrics tracks dispatch accounting: an exponential moving average of
// handler latency plus running totals, mirrored to Prometheus.
type Metrics struct {
	mu       sync.Mutex
	total    int64
	errors   int64
	emaMs    float64
	observed bool

	dispatched *prometheus.CounterVec
	latency    prometheus.Histogram
}

// NewMetrics creates Metrics and registers the Prometheus collectors on reg.
// Pass prometheus.NewRegistry() in tests to keep registrations isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardsync_commands_total",
			Help: "Commands dispatched, by command name and result.",
		}, []string{"command", "result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boardsync_dispatch_seconds",
			Help:    "Handler latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.dispatched, m.latency)
	return m
}

// observe records one dispatch outcome.
func (m *Metrics) observe(command string, elapsed time.Duration, failed bool) {
	ms := float64(elapsed.Microseconds()) / 1000.0

	m.mu.Lock()
	m.total++
	if failed {
		m.errors++
	}
	if !m.observed {
		m.emaMs = ms
		m.observed = true
	} else {
		m.emaMs = emaAlpha*ms + (1-emaAlpha)*m.emaMs
	}
	m.mu.Unlock()

	result := "ok"
	if failed {
		result = "error"
	}
	m.dispatched.WithLabelValues(command, result).Inc()
	m.latency.Observe(elapsed.Seconds())
}

// Snapshot returns the current accounting values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalDispatched: m.total,
		TotalErrors:     m.errors,
		AvgLatencyMs:    m.emaMs,
	}
}
