package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Analysis outcomes recorded on AnalysesTotal.
const (
	OutcomeOK               = "ok"
	OutcomeBadRequest       = "bad_request"
	OutcomeCalibration      = "calibration"
	OutcomeEmptyBoundary    = "empty_boundary"
	OutcomeInsufficientData = "insufficient_data"
	OutcomeError            = "error"
)

// Metrics holds all Prometheus metrics for the chart service. Each instance
// owns its registry, so tests and multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesTotal   *prometheus.CounterVec   // labels: outcome
	StageDuration   *prometheus.HistogramVec // labels: stage
	PointsExtracted prometheus.Histogram
	OutOfRangeTotal prometheus.Counter
	LatestRSI       prometheus.Gauge

	JournalWriteDur prometheus.Histogram
	PublishFailures prometheus.Counter
	PrunedTotal     prometheus.Counter

	// Circuit breaker on the Redis publisher: 0=closed, 1=open, 2=half-open.
	RedisCircuitBreakerState prometheus.Gauge

	AlertsTotal *prometheus.CounterVec // labels: zone

	WSClients prometheus.Gauge
	WSDropped prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartrsi_analyses_total",
			Help: "Chart analyses by outcome",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartrsi_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"stage"}),
		PointsExtracted: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartrsi_points_extracted",
			Help:    "Ordered points recovered from each chart",
			Buckets: prometheus.ExponentialBuckets(16, 2, 8),
		}),
		OutOfRangeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartrsi_out_of_range_points_total",
			Help: "Points whose row fell outside the calibrated chart height",
		}),
		LatestRSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartrsi_latest_rsi",
			Help: "Last RSI value of the most recent analysis",
		}),
		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartrsi_journal_write_duration_seconds",
			Help:    "SQLite journal insert latency",
			Buckets: prometheus.DefBuckets,
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartrsi_publish_failures_total",
			Help: "Analyses that could not be published to Redis",
		}),
		PrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartrsi_journal_pruned_total",
			Help: "Journal rows removed by the retention job",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartrsi_redis_circuit_breaker_state",
			Help: "Redis publisher breaker state (0=closed, 1=open, 2=half-open)",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartrsi_alerts_total",
			Help: "Zone alerts sent",
		}, []string{"zone"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartrsi_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartrsi_ws_dropped_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
	}

	m.registry.MustRegister(
		m.AnalysesTotal,
		m.StageDuration,
		m.PointsExtracted,
		m.OutOfRangeTotal,
		m.LatestRSI,
		m.JournalWriteDur,
		m.PublishFailures,
		m.PrunedTotal,
		m.RedisCircuitBreakerState,
		m.AlertsTotal,
		m.WSClients,
		m.WSDropped,
	)
	return m
}

// ObserveStage records one pipeline stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
