// Package metrics exposes the sandboxd fleet's health as Prometheus gauges
// and histograms, scraped over the C11 /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_queue_depth",
			Help: "Number of tasks currently waiting in the intake queue",
		},
	)

	QueueCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_queue_capacity",
			Help: "Configured capacity of the intake queue",
		},
	)

	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_cache_size",
			Help: "Number of task results currently held in the result cache",
		},
	)

	CacheDroppedInFlight = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_cache_dropped_in_flight_total",
			Help: "Number of non-terminal tasks evicted from the result cache by capacity pressure",
		},
	)

	WorkersIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_workers_idle",
			Help: "Number of worker goroutines currently idle",
		},
	)

	WorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_workers_total",
			Help: "Total number of worker goroutines in the pool",
		},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal status, by status",
		},
		[]string{"status"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_task_duration_seconds",
			Help:    "Wall-clock time from a task leaving the queue to reaching a terminal status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"language"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_http_requests_total",
			Help: "Total HTTP requests by request path and HTTP status text",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueCapacity,
		CacheSize,
		CacheDroppedInFlight,
		WorkersIdle,
		WorkersTotal,
		TasksCompletedTotal,
		TaskDuration,
		RequestsTotal,
	)
}

// Handler returns the Prometheus scrape handler for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
