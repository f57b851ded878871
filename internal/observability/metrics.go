// Package observability exposes Prometheus metrics for the engine.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	datasetLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_loads_total",
			Help: "Aggregate dataset load attempts by outcome.",
		},
		[]string{"outcome"},
	)

	datasetFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataset_fetch_duration_seconds",
			Help:    "Duration of aggregate dataset fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"source"},
	)

	datasetCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_cache_results_total",
			Help: "In-process dataset cache results by outcome.",
		},
		[]string{"outcome"},
	)

	datasetRecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataset_records_skipped_total",
			Help: "Records dropped during load because their geometry failed to parse.",
		},
	)

	payloadCacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_cache_ops_total",
			Help: "Shared payload cache operations by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	sceneComposeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scene_compose_duration_seconds",
			Help:    "Duration of scene layer composition in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"layer", "memo"},
	)

	invalidationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Dataset invalidation events by outcome.",
		},
		[]string{"outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncDatasetLoad(outcome string) {
	datasetLoadsTotal.WithLabelValues(outcome).Inc()
}

func ObserveDatasetFetch(source string, durationSeconds float64) {
	datasetFetchDurationSeconds.WithLabelValues(source).Observe(durationSeconds)
}

func IncDatasetCacheHit()  { datasetCacheResults.WithLabelValues("hit").Inc() }
func IncDatasetCacheMiss() { datasetCacheResults.WithLabelValues("miss").Inc() }

func AddRecordsSkipped(n int) {
	if n > 0 {
		datasetRecordsSkipped.Add(float64(n))
	}
}

func ObservePayloadCacheOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	payloadCacheOps.WithLabelValues(op, outcome).Inc()
}

func ObserveSceneCompose(layer string, memoHit bool, durationSeconds float64) {
	memo := "miss"
	if memoHit {
		memo = "hit"
	}
	sceneComposeDurationSeconds.WithLabelValues(layer, memo).Observe(durationSeconds)
}

func IncInvalidation(outcome string) {
	invalidationEventsTotal.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
