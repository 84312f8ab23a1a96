package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backend metrics
	BackendOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freon_backend_operations_total",
			Help: "Total number of backend operations",
		},
		[]string{"backend", "operation", "result"}, // result: ok, error
	)

	BackendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "freon_backend_operation_duration_seconds",
			Help:    "Duration of backend operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	// Facade metrics
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freon_cache_requests_total",
			Help: "Total number of cache facade requests by outcome",
		},
		[]string{"operation", "result"}, // result: hit, stale, miss, written, locked, error
	)

	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "freon_lock_contention_total",
			Help: "Total number of set calls that lost the non-blocking lock race",
		},
	)

	// Expiry gauges, refreshed by the Collector
	KeysExpired = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "freon_keys_expired",
			Help: "Number of keys whose expiry instant has passed",
		},
	)

	KeysExpiring = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "freon_keys_expiring",
			Help: "Number of keys that expire within the labelled window",
		},
		[]string{"window"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"scope"}, // scope: global, ip
	)

	// Metrics collection error tracking
	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"collector"}, // collector: expired, expiring
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket watch connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent to clients",
		},
	)
)
