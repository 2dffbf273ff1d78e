// Package metrics exposes Prometheus collectors for the orchestrator service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperJobsTotal           *prometheus.CounterVec
	scraperQueueDepth          *prometheus.GaugeVec
	scraperWorkersLive         prometheus.Gauge
	scraperWorkersActive       prometheus.Gauge
	scraperRecoveriesTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of project lifecycle transitions, labeled by status.",
			},
			[]string{"status"},
		)

		scraperQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraper_queue_depth",
				Help: "Unclaimed tasks waiting per queue.",
			},
			[]string{"queue"},
		)

		scraperWorkersLive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_workers_live",
				Help: "Workers with a fresh heartbeat.",
			},
		)

		scraperWorkersActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_workers_active",
				Help: "Workers currently holding a task.",
			},
		)

		scraperRecoveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_recoveries_total",
				Help: "Stuck-project sweep outcomes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the lifecycle counter for the given status.
func ObserveJob(status string) {
	scraperJobsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth records the unclaimed task count for one queue.
func SetQueueDepth(queue string, depth int) {
	scraperQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetWorkerCounts records live and active worker totals.
func SetWorkerCounts(live, active int) {
	scraperWorkersLive.Set(float64(live))
	scraperWorkersActive.Set(float64(active))
}

// ObserveRecovery counts one sweep decision ("recovered" or "exhausted").
func ObserveRecovery(outcome string) {
	scraperRecoveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
