package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Per-recipient delivery attempts.
	DeliveryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_total",
			Help: "Total number of per-recipient notification delivery attempts",
		},
		[]string{"kind", "status"}, // status: sent, failed
	)

	// Transport send latency (seconds).
	TransportSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_transport_send_duration_seconds",
			Help:    "Transport send latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"transport", "status"},
	)

	// Background and manual job runs.
	JobRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_job_runs_total",
			Help: "Total number of notification job runs",
		},
		[]string{"job", "result"}, // result: success, failed, skipped
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_job_duration_seconds",
			Help:    "Notification job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"job"},
	)

	// Schedule queue outcomes.
	ScheduleProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_schedule_processed_total",
			Help: "Total number of schedule entries processed",
		},
		[]string{"result"}, // result: completed, failed, rearmed
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries above the slow query threshold",
		},
	)
)

// RecordDelivery counts one per-recipient delivery outcome.
func RecordDelivery(kind, status string) {
	DeliveryCount.WithLabelValues(kind, status).Inc()
}

// RecordTransportSend records transport latency.
func RecordTransportSend(transport, status string, duration time.Duration) {
	TransportSendDuration.WithLabelValues(transport, status).Observe(duration.Seconds())
}

// RecordJobRun records a job result and, unless skipped, its duration.
func RecordJobRun(job, result string, duration time.Duration) {
	JobRunCount.WithLabelValues(job, result).Inc()
	if result != "skipped" {
		JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// IncrementScheduleProcessed counts a processed schedule entry.
func IncrementScheduleProcessed(result string) {
	ScheduleProcessedCount.WithLabelValues(result).Inc()
}

// IncrementSlowQuery counts a slow query.
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
