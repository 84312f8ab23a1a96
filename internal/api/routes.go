package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/freon/internal/api/handlers"
	"github.com/onnwee/freon/internal/cache"
	"github.com/onnwee/freon/internal/middleware"
)

// Options wires the router to a cache and its surrounding services.
type Options struct {
	Cache *cache.Cache[any]
	// Hub serves /api/watch; nil leaves the route unregistered.
	Hub *handlers.Hub
	// RateLimiter guards /api; nil disables rate limiting.
	RateLimiter    *middleware.RateLimiter
	CORSOrigins    []string
	MaxBodyBytes   int64
	ExpiringWindow time.Duration
}

// NewRouter builds the HTTP handler with the full middleware chain.
func NewRouter(opts Options) http.Handler {
	if opts.ExpiringWindow <= 0 {
		opts.ExpiringWindow = time.Minute
	}
	c := opts.Cache

	r := mux.NewRouter()
	r.Use(middleware.RequestMetrics)

	r.HandleFunc("/health", handlers.Health(c.Backend())).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Limit)
	}
	api.Use(middleware.LimitBody(opts.MaxBodyBytes))

	// Keys may contain slashes, so the get-or-set route goes first.
	api.HandleFunc("/cache/{key:.+}/get-or-set", handlers.GetOrSetEntry(c)).Methods(http.MethodPost)
	api.Handle("/cache/{key:.+}", middleware.ETag(handlers.GetEntry(c))).Methods(http.MethodGet)
	api.HandleFunc("/cache/{key:.+}", handlers.HeadEntry(c)).Methods(http.MethodHead)
	api.HandleFunc("/cache/{key:.+}", handlers.PutEntry(c)).Methods(http.MethodPut)
	api.HandleFunc("/cache/{key:.+}", handlers.DeleteEntry(c)).Methods(http.MethodDelete)

	api.HandleFunc("/ttl/expired", handlers.ListExpired(c)).Methods(http.MethodGet)
	api.HandleFunc("/ttl/expiring", handlers.ListExpiring(c, opts.ExpiringWindow)).Methods(http.MethodGet)

	if opts.Hub != nil {
		api.HandleFunc("/watch", opts.Hub.Watch).Methods(http.MethodGet)
	}

	var h http.Handler = r
	h = middleware.Compress(h)
	h = middleware.CORS(middleware.DefaultCORSConfig(opts.CORSOrigins...))(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.RecoverWithSentry(h)
	h = middleware.RequestID(h)
	return h
}
