// Package metrics exposes Prometheus collectors for the harvester service.
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

// Identifier outcome labels.
const (
	OutcomeSuccess         = "success"
	OutcomeNotFound        = "not_found"
	OutcomeParseIncomplete = "parse_incomplete"
	OutcomeFailed          = "failed"
	OutcomeInvalid         = "invalid"
)

var (
	identifiersTotal           *prometheus.CounterVec
	portalRequestsTotal        *prometheus.CounterVec
	portalRequestSeconds       prometheus.Histogram
	lookupsTotal               *prometheus.CounterVec
	cacheWriteFailuresTotal    prometheus.Counter
	batchesTotal               *prometheus.CounterVec
	watcherPollsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		identifiersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_identifiers_total",
				Help: "Identifiers processed by workers, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		portalRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_portal_requests_total",
				Help: "Requests sent to the results portal, labeled by status code (0 for transport failures).",
			},
			[]string{"code"},
		)

		portalRequestSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_portal_request_seconds",
				Help:    "Latency of results portal requests.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
		)

		lookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_lookups_total",
				Help: "Tiered lookups, labeled by the tier that answered.",
			},
			[]string{"source"},
		)

		cacheWriteFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_cache_write_failures_total",
				Help: "Best-effort cache writes that failed after a committed save.",
			},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_batches_total",
				Help: "Batches that reached a lifecycle state, labeled by status.",
			},
			[]string{"status"},
		)

		watcherPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_watcher_polls_total",
				Help: "Portal index polls, labeled by result.",
			},
			[]string{"result"},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a chunk.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	return promhttp.Handler()
}

// ObserveIdentifier counts one worker outcome.
func ObserveIdentifier(outcome string) {
	Init()
	identifiersTotal.WithLabelValues(outcome).Inc()
}

// ObservePortalRequest records one portal round trip.
func ObservePortalRequest(code int, duration time.Duration) {
	Init()
	portalRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	portalRequestSeconds.Observe(duration.Seconds())
}

// ObserveLookup counts the tier that answered a lookup.
func ObserveLookup(source string) {
	Init()
	lookupsTotal.WithLabelValues(source).Inc()
}

// ObserveCacheWriteFailure counts a failed best-effort cache write.
func ObserveCacheWriteFailure() {
	Init()
	cacheWriteFailuresTotal.Inc()
}

// ObserveBatch counts a batch lifecycle transition.
func ObserveBatch(status string) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
}

// ObserveWatcherPoll counts one watcher poll.
func ObserveWatcherPoll(result string) {
	Init()
	watcherPollsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
