package calcd

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "calcd"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests",
	}, []string{
		"method",
		"route",
		"status",
	})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "Histogram of HTTP request durations",
		Buckets:   prometheus.DefBuckets,
	}, []string{
		"method",
		"route",
	})

	calculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "calculations_total",
		Help:      "Count of calculations created, per type",
	}, []string{
		"type",
	})

	authFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "auth_failures_total",
		Help:      "Count of failed authentication attempts",
	}, []string{
		"reason",
	})

	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "cache_hits_total",
		Help:      "Number of result cache hits",
	}, []string{
		"cache",
	})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "cache_misses_total",
		Help:      "Number of result cache misses",
	}, []string{
		"cache",
	})

	cacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "cache_errors_total",
		Help:      "Number of result cache errors",
	}, []string{
		"cache",
	})

	rateLimitTakeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "rate_limit_take_errors",
		Help:      "Count of errors taking rate limits",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "rate_limited_total",
		Help:      "Count of requests rejected by the rate limiter",
	})
)

func RecordHTTPRequest(method, route string, status int, dur time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

func RecordCalculation(typ CalculationType) {
	calculationsTotal.WithLabelValues(string(typ)).Inc()
}

func RecordAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

func RecordCacheHit(cache string) {
	cacheHitsTotal.WithLabelValues(cache).Inc()
}

func RecordCacheMiss(cache string) {
	cacheMissesTotal.WithLabelValues(cache).Inc()
}

func RecordCacheError(cache string) {
	cacheErrorsTotal.WithLabelValues(cache).Inc()
}

func RecordRateLimited() {
	rateLimitedTotal.Inc()
}
