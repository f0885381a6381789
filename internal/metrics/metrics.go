// Package metrics holds the process-wide Prometheus collectors. They register
// with the default registry once, at package init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_fetch_requests_total",
		Help: "Outbound HTTP requests by method and outcome (status class or error class)",
	}, []string{"method", "outcome"})

	fetchCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_fetch_cache_hits_total",
		Help: "Fetches answered from the cache without a network call",
	}, []string{"kind"})

	fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venue_fetch_retries_total",
		Help: "Retried outbound HTTP attempts",
	})

	rateLimitWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venue_fetch_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limiter token",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	capabilityCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_capability_calls_total",
		Help: "Search and reasoning backend calls by outcome",
	}, []string{"capability", "outcome"})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_validations_total",
		Help: "Completed venue validations by final stage and status",
	}, []string{"stage", "status"})

	freshnessOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_freshness_outcomes_total",
		Help: "Freshness check outcomes per venue (passed, flagged, updated, error)",
	}, []string{"outcome"})

	freshnessRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venue_freshness_run_duration_seconds",
		Help:    "Wall time of a freshness run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venue_freshness_last_run_timestamp_seconds",
		Help: "Unix time the last freshness run finished",
	})

	venuesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_records",
		Help: "Venue records by status at the last snapshot",
	}, []string{"status"})

	venuesOverdue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venue_records_overdue",
		Help: "Venues whose next check is in the past at the last snapshot",
	})

	alertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_alerts_sent_total",
		Help: "Monitoring alerts delivered to the webhook by type",
	}, []string{"type"})
)

// ObserveFetch counts one outbound request.
func ObserveFetch(method, outcome string) {
	fetchRequests.WithLabelValues(method, outcome).Inc()
}

// ObserveCacheHit counts one cache-served fetch. kind is "get" or "check".
func ObserveCacheHit(kind string) {
	fetchCacheHits.WithLabelValues(kind).Inc()
}

// ObserveRetry counts one retried attempt.
func ObserveRetry() {
	fetchRetries.Inc()
}

// ObserveRateLimitWait records time spent waiting for a token.
func ObserveRateLimitWait(d time.Duration) {
	rateLimitWait.Observe(d.Seconds())
}

// ObserveCapability counts one search or reasoning call.
func ObserveCapability(capability, outcome string) {
	capabilityCalls.WithLabelValues(capability, outcome).Inc()
}

// ObserveValidation counts one finished validation.
func ObserveValidation(stage, status string) {
	validations.WithLabelValues(stage, status).Inc()
}

// ObserveFreshnessOutcome counts one venue outcome of a freshness run.
func ObserveFreshnessOutcome(outcome string) {
	freshnessOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveFreshnessRun records a finished run.
func ObserveFreshnessRun(d time.Duration, finished time.Time) {
	freshnessRunDuration.Observe(d.Seconds())
	lastRunTimestamp.Set(float64(finished.Unix()))
}

// SetVenueCounts publishes a store snapshot.
func SetVenueCounts(byStatus map[string]int, overdue int) {
	for status, n := range byStatus {
		venuesByStatus.WithLabelValues(status).Set(float64(n))
	}
	venuesOverdue.Set(float64(overdue))
}

// ObserveAlert counts one delivered alert.
func ObserveAlert(alertType string) {
	alertsSent.WithLabelValues(alertType).Inc()
}

// StatusClass buckets an HTTP status for the outcome label.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}
