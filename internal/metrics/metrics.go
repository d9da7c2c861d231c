// Package metrics exposes Prometheus collectors for the disclosure miner.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	documentsTotal             *prometheus.CounterVec
	metricValuesTotal          *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	pipelineRunsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	poolAcquireTimeoutsTotal   prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_documents_total",
				Help: "Extracted documents, labeled by type and relevance decision.",
			},
			[]string{"type", "decision"},
		)

		metricValuesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_metric_values_total",
				Help: "Financial metric values reported, labeled by kind.",
			},
			[]string{"kind"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "miner_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations.",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_pipeline_runs_total",
				Help: "Pipeline runs, labeled by mode and whether any stage degraded.",
			},
			[]string{"mode", "degraded"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		poolAcquireTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "miner_fetch_pool_timeouts_total",
				Help: "Fetch attempts that timed out waiting for a connection slot.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "miner_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_cache_lookups_total",
				Help: "Answer cache lookups, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveDocument records a relevance decision ("kept" or "dropped").
func ObserveDocument(docType, decision string) {
	Init()
	documentsTotal.WithLabelValues(docType, decision).Inc()
}

// ObserveMetricValues records how many values were reported for a metric kind.
func ObserveMetricValues(kind string, n int) {
	Init()
	if n > 0 {
		metricValuesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveStage records the duration of a pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObservePipelineRun counts a finished pipeline run.
func ObservePipelineRun(mode string, degraded bool) {
	Init()
	pipelineRunsTotal.WithLabelValues(mode, strconv.FormatBool(degraded)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePoolTimeout increments the connection-slot timeout counter.
func ObservePoolTimeout() {
	Init()
	poolAcquireTimeoutsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCacheLookup records an answer cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}
