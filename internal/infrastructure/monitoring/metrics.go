// Package monitoring provides Prometheus metrics for the daemon.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsCreated    *prometheus.CounterVec
	SessionsTerminated prometheus.Counter
	SessionsReaped     prometheus.Counter
	SpawnFailures      *prometheus.CounterVec

	// Stream metrics
	ClientsAttached  prometheus.Gauge
	BytesBroadcast   prometheus.Counter
	BytesWritten     prometheus.Counter
	DroppedBroadcast prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates and registers the metric set.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers against a custom registry, for tests.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shellgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shellgate_sessions_active",
				Help: "Number of non-terminated terminal sessions",
			},
		),
		SessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellgate_sessions_created_total",
				Help: "Total number of terminal sessions created",
			},
			[]string{"kind", "sandboxed"},
		),
		SessionsTerminated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shellgate_sessions_terminated_total",
				Help: "Total number of terminal sessions terminated",
			},
		),
		SessionsReaped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shellgate_sessions_reaped_total",
				Help: "Total number of terminated sessions removed from the registry",
			},
		),
		SpawnFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellgate_spawn_failures_total",
				Help: "Total number of failed session creations",
			},
			[]string{"reason"},
		),

		ClientsAttached: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shellgate_clients_attached",
				Help: "Number of currently attached stream gateways",
			},
		),
		BytesBroadcast: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shellgate_output_bytes_total",
				Help: "Total PTY output bytes broadcast to gateways",
			},
		),
		BytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shellgate_input_bytes_total",
				Help: "Total input bytes written to PTYs",
			},
		),
		DroppedBroadcast: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shellgate_dropped_broadcasts_total",
				Help: "Output events dropped because a subscriber was too slow",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shellgate_ws_connections",
				Help: "Number of open WebSocket connections",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shellgate_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
