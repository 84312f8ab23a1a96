// Package server assembles the cache service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/freon/internal/api"
	"github.com/onnwee/freon/internal/api/handlers"
	"github.com/onnwee/freon/internal/backend"
	"github.com/onnwee/freon/internal/cache"
	"github.com/onnwee/freon/internal/codec"
	"github.com/onnwee/freon/internal/config"
	"github.com/onnwee/freon/internal/logger"
	"github.com/onnwee/freon/internal/metrics"
	"github.com/onnwee/freon/internal/middleware"
)

// OpenBackend builds the configured backend. Every backend is instrumented;
// remote ones also sit behind a circuit breaker.
func OpenBackend(ctx context.Context, cfg *config.Config) (backend.Backend, error) {
	b, err := backend.Open(ctx, cfg.Backend, cfg.BackendOptions())
	if err != nil {
		return nil, err
	}
	if cfg.Backend.Remote() {
		cb := backend.NewBreaker(string(cfg.Backend), cfg.CBFailureThreshold, cfg.CBTimeout)
		b = backend.WithBreaker(b, cb)
	}
	return backend.Instrument(b, string(cfg.Backend)), nil
}

// OpenCache builds the backend and codec and returns the facade over them.
func OpenCache(ctx context.Context, cfg *config.Config) (*cache.Cache[any], error) {
	cd, err := codec.New(cfg.Codec, codec.Hooks{})
	if err != nil {
		return nil, err
	}
	b, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return cache.New[any](b, cd, cache.WithDefaultTTL(cfg.DefaultTTL)), nil
}

// Server runs the HTTP API together with the expiry collector and the
// watch hub.
type Server struct {
	cfg       *config.Config
	cache     *cache.Cache[any]
	hub       *handlers.Hub
	collector *metrics.Collector
	limiter   *middleware.RateLimiter
	http      *http.Server
}

// New opens the cache described by cfg and prepares the HTTP server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	c, err := OpenCache(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		cache:     c,
		hub:       handlers.NewHub(c, cfg.WatchInterval, cfg.CORSAllowedOrigins...),
		collector: metrics.NewCollector(c, cfg.MetricsInterval, cfg.ExpiryWindows...),
	}
	if cfg.EnableRateLimit {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst, cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst)
	}

	var window time.Duration
	if len(cfg.ExpiryWindows) > 0 {
		window = cfg.ExpiryWindows[0]
	}
	s.http = &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Options{
			Cache:          c,
			Hub:            s.hub,
			RateLimiter:    s.limiter,
			CORSOrigins:    cfg.CORSAllowedOrigins,
			MaxBodyBytes:   cfg.MaxBodyBytes,
			ExpiringWindow: window,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Cache returns the facade the server exposes.
func (s *Server) Cache() *cache.Cache[any] { return s.cache }

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.HTTPAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// HTTP server down gracefully and closes the backend.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.collector.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", ln.Addr().String(), "backend", s.cfg.Backend, "codec", s.cfg.Codec)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server", "timeout", s.cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close stops background helpers and closes the backend.
func (s *Server) Close() error {
	s.collector.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.cache.Backend().Close()
}
