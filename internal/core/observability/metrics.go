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

	wmsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wms_requests_total",
			Help: "WMS operations by request type and outcome (ok, exception, error).",
		},
		[]string{"request", "outcome"},
	)

	wmsExceptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wms_exceptions_total",
			Help: "WMS exception documents returned, by exception code.",
		},
		[]string{"code"},
	)

	renderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "render_duration_seconds",
			Help:    "Duration of layer and legend renderer calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"kind", "name", "outcome"},
	)

	capabilitiesDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capabilities_build_duration_seconds",
			Help:    "Time spent assembling capabilities documents.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	lookupCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookup_cache_results_total",
			Help: "In-process cache lookups by cache and outcome.",
		},
		[]string{"cache", "outcome"},
	)

	mapEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "map_events_total",
			Help: "GetMap events handed to the event publisher, by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_invalidations_total",
			Help: "Dataset invalidation events consumed, by outcome.",
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

// Collectors returns the service collectors so they can also be exposed
// on a dedicated registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		wmsRequestsTotal,
		wmsExceptionsTotal,
		renderDurationSeconds,
		capabilitiesDurationSeconds,
		cacheOpsTotal,
		redisOpDurationSeconds,
		lookupCacheResults,
		mapEventsTotal,
		invalidationsTotal,
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveWMSRequest(request, outcome string) {
	if request == "" {
		request = "none"
	}
	wmsRequestsTotal.WithLabelValues(request, outcome).Inc()
}

// IncException counts an exception document; generic exceptions use "none".
func IncException(code string) {
	if code == "" {
		code = "none"
	}
	wmsExceptionsTotal.WithLabelValues(code).Inc()
}

// ObserveRender records one renderer call; kind is "layer" or "legend".
func ObserveRender(kind, name string, err error, durationSeconds float64) {
	renderDurationSeconds.WithLabelValues(kind, name, outcome(err)).Observe(durationSeconds)
}

func ObserveCapabilities(durationSeconds float64) {
	capabilitiesDurationSeconds.Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpsTotal.WithLabelValues(op, outcome(err)).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncLookupHit(cache string)  { lookupCacheResults.WithLabelValues(cache, "hit").Inc() }
func IncLookupMiss(cache string) { lookupCacheResults.WithLabelValues(cache, "miss").Inc() }

func IncMapEvent(outcome string) {
	mapEventsTotal.WithLabelValues(outcome).Inc()
}

func IncInvalidation(outcome string) {
	invalidationsTotal.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
