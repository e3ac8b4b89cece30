// Package metrics exposes Prometheus collectors for the dispatch service.
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

// Job outcomes recorded by ObserveJob.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusUnhandled = "unhandled"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeJobs                 prometheus.Gauge
	rpcCallsTotal              *prometheus.CounterVec
	cacheRefreshTotal          *prometheus.CounterVec
	collectedItemsTotal        *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	fetchesTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_jobs_total",
				Help: "Total number of jobs processed, labeled by handler and status.",
			},
			[]string{"handler", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_job_duration_seconds",
				Help:    "Histogram of job handling latency, labeled by handler.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"handler"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_active_jobs",
				Help: "Number of jobs currently being handled.",
			},
		)

		rpcCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_rpc_calls_total",
				Help: "Total RPC calls, labeled by result (reply, timeout, canceled, error).",
			},
			[]string{"result"},
		)

		cacheRefreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_cache_refresh_total",
				Help: "Total resource cache refreshes, labeled by cache and result.",
			},
			[]string{"cache", "result"},
		)

		collectedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_collected_items_total",
				Help: "Items handed to collectors, labeled by collector and result.",
			},
			[]string{"collector", "result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_fetches_total",
				Help: "Page fetches, labeled by fetcher and status class.",
			},
			[]string{"fetcher", "status_class"},
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

// ObserveJob records one finished job.
func ObserveJob(handler, status string, duration time.Duration) {
	Init()
	if handler == "" {
		handler = "none"
	}
	jobsTotal.WithLabelValues(handler, status).Inc()
	jobDurationSeconds.WithLabelValues(handler).Observe(duration.Seconds())
}

// IncActiveJobs increments the in-flight job gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the in-flight job gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveRPC records the settlement of one RPC call.
func ObserveRPC(result string) {
	Init()
	rpcCallsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheRefresh records one resource cache refresh.
func ObserveCacheRefresh(cache string, ok bool) {
	Init()
	result := "success"
	if !ok {
		result = "error"
	}
	cacheRefreshTotal.WithLabelValues(cache, result).Add(1)
}

// ObserveCollected records n items handed to a collector.
func ObserveCollected(collector string, n int, ok bool) {
	Init()
	if n <= 0 {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	collectedItemsTotal.WithLabelValues(collector, result).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveFetch records one page fetch by HTTP status class.
func ObserveFetch(fetcher string, statusCode int) {
	Init()
	class := "error"
	if statusCode >= 100 && statusCode < 600 {
		class = strconv.Itoa(statusCode/100) + "xx"
	}
	fetchesTotal.WithLabelValues(fetcher, class).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
