package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_requests_total",
			Help: "Total number of stream requests by outcome",
		},
		[]string{"outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sluice_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	SSEEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_sse_events_total",
			Help: "Total number of SSE events written by type",
		},
		[]string{"type"},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_cache_hits_total",
			Help: "Total cache hits by tier",
		},
		[]string{"tier"},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sluice_cache_misses_total",
			Help: "Total cache misses",
		},
	)

	CacheL1Size = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sluice_cache_l1_size",
			Help: "Current number of entries in the L1 cache",
		},
	)

	// Pool metrics
	PoolActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sluice_pool_active",
			Help: "Currently active requests according to the global counter",
		},
	)

	PoolHealthState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sluice_pool_health",
			Help: "Pool health state (1 for the current state, 0 otherwise)",
		},
		[]string{"state"},
	)

	PoolRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_pool_rejections_total",
			Help: "Pool acquire rejections by reason",
		},
		[]string{"reason"},
	)

	// Breaker metrics
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sluice_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	ProviderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_provider_failures_total",
			Help: "Provider stream failures by provider",
		},
		[]string{"provider"},
	)

	// Admission metrics
	ShedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sluice_shed_total",
			Help: "Requests rejected by the load shedder",
		},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sluice_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sluice_queue_depth",
			Help: "Current length of the failover job stream",
		},
	)

	QueueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_queue_jobs_total",
			Help: "Failover jobs by outcome",
		},
		[]string{"outcome"},
	)

	QueueFullTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sluice_queue_full_total",
			Help: "Enqueue attempts that failed after backpressure retries",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(SSEEventsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheL1Size)
	prometheus.MustRegister(PoolActive)
	prometheus.MustRegister(PoolHealthState)
	prometheus.MustRegister(PoolRejectionsTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(ProviderFailuresTotal)
	prometheus.MustRegister(ShedTotal)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueJobsTotal)
	prometheus.MustRegister(QueueFullTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
