package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_connections_active",
			Help: "Number of currently connected event channel clients",
		},
	)

	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncd_connections_total",
			Help: "Total number of event channel connections accepted",
		},
	)

	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_auth_failures_total",
			Help: "Total number of failed authentication attempts by transport",
		},
		[]string{"transport"},
	)

	// Broadcast metrics
	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_broadcasts_total",
			Help: "Total number of outbound events broadcast by type",
		},
		[]string{"event_type"},
	)

	BroadcastRecipients = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncd_broadcast_recipients",
			Help:    "Number of members in the target room when a broadcast was sent",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// File operation metrics
	FileOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_file_operations_total",
			Help: "Total number of file mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	FileOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_file_operation_duration_seconds",
			Help:    "Time taken to perform a file mutation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TombstonesCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncd_tombstones_cleaned_total",
			Help: "Total number of expired tombstones permanently removed",
		},
	)

	// Query engine metrics
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncd_query_duration_seconds",
			Help:    "Time taken to execute a file listing query in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueryResultsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncd_query_results_returned",
			Help:    "Number of file records returned per listing query",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)

	// HTTP gateway metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_http_requests_total",
			Help: "Total number of HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(BroadcastRecipients)
	prometheus.MustRegister(FileOperationsTotal)
	prometheus.MustRegister(FileOperationDuration)
	prometheus.MustRegister(TombstonesCleanedTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryResultsReturned)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
