// Package cache is the typed facade over a storage backend. It encodes values
// with a codec, applies the default TTL and keeps concurrent writers of the
// same key from recomputing it together.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/freon/internal/backend"
	"github.com/onnwee/freon/internal/codec"
	"github.com/onnwee/freon/internal/logger"
	"github.com/onnwee/freon/internal/metrics"
	"github.com/onnwee/freon/internal/tracing"
)

// DefaultTTL applies when neither the call nor WithDefaultTTL sets one.
const DefaultTTL = time.Hour

// Item is a decoded entry together with its backend state.
type Item[V any] struct {
	Value   V
	Found   bool
	Expired bool
}

// Cache stores values of type V. It is safe for concurrent use; several
// caches may share one backend.
type Cache[V any] struct {
	backend    backend.Backend
	codec      codec.Codec
	defaultTTL time.Duration
	log        *slog.Logger
}

type options struct {
	defaultTTL time.Duration
	log        *slog.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithDefaultTTL sets the TTL used when a Value carries none.
func WithDefaultTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.defaultTTL = d
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// New returns a cache over b that encodes values with c.
func New[V any](b backend.Backend, c codec.Codec, opts ...Option) *Cache[V] {
	o := options{defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("cache")
	}
	return &Cache[V]{backend: b, codec: c, defaultTTL: o.defaultTTL, log: o.log}
}

// DefaultTTL returns the TTL applied when a Value carries none.
func (c *Cache[V]) DefaultTTL() time.Duration { return c.defaultTTL }

// Backend returns the underlying backend.
func (c *Cache[V]) Backend() backend.Backend { return c.backend }

// Get returns the decoded value for key, expired or not. found is false only
// when the key is absent.
func (c *Cache[V]) Get(ctx context.Context, key string) (value V, found bool, err error) {
	item, err := c.lookup(ctx, "get", key)
	return item.Value, item.Found, err
}

// Lookup is Get with the expiry flag exposed.
func (c *Cache[V]) Lookup(ctx context.Context, key string) (Item[V], error) {
	return c.lookup(ctx, "lookup", key)
}

func (c *Cache[V]) lookup(ctx context.Context, op, key string) (Item[V], error) {
	ctx, span := tracing.StartSpan(ctx, "cache.Get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	raw, expired, err := c.backend.Get(ctx, key)
	if err != nil {
		c.fail(span, op, err)
		return Item[V]{}, fmt.Errorf("get %q: %w", key, err)
	}
	if raw == nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		metrics.CacheRequests.WithLabelValues(op, "miss").Inc()
		return Item[V]{}, nil
	}

	v, err := c.decode(raw)
	if err != nil {
		c.fail(span, op, err)
		return Item[V]{}, fmt.Errorf("get %q: %w", key, err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Bool("cache.expired", expired))
	metrics.CacheRequests.WithLabelValues(op, hitResult(expired)).Inc()
	return Item[V]{Value: v, Found: true, Expired: expired}, nil
}

// Set writes val under key unless another writer holds the key's lock. On
// contention it returns immediately with written=false and nil error, without
// running a producer or touching the backend.
func (c *Cache[V]) Set(ctx context.Context, key string, val Value[V]) (value V, written bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "cache.Set", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()
	return c.set(ctx, span, "set", key, val)
}

func (c *Cache[V]) set(ctx context.Context, span trace.Span, op, key string, val Value[V]) (V, bool, error) {
	var zero V

	lock := c.backend.Lock(key)
	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		c.fail(span, op, err)
		return zero, false, fmt.Errorf("lock %q: %w", key, err)
	}
	if !acquired {
		span.SetAttributes(attribute.Bool("cache.locked", true))
		metrics.LockContention.Inc()
		metrics.CacheRequests.WithLabelValues(op, "locked").Inc()
		c.log.Debug("Lock held by another writer", "key", key)
		return zero, false, nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("Failed to release lock", "key", key, "error", err)
		}
	}()

	v, err := val.resolve(ctx)
	if err != nil {
		c.fail(span, op, err)
		return zero, false, fmt.Errorf("produce %q: %w", key, err)
	}
	ttl := val.ttlFor(v, c.defaultTTL)

	data, err := c.codec.Marshal(v)
	if err != nil {
		c.fail(span, op, err)
		return zero, false, fmt.Errorf("encode %q: %w", key, err)
	}
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		c.fail(span, op, err)
		return zero, false, fmt.Errorf("set %q: %w", key, err)
	}

	span.SetAttributes(attribute.Int64("cache.ttl_ms", ttl.Milliseconds()))
	metrics.CacheRequests.WithLabelValues(op, "written").Inc()
	return v, true, nil
}

// GetOrSet returns the fresh value for key, or writes val when the entry is
// absent or expired. When another writer holds the lock it falls back to the
// expired value; found is false only if there was nothing stored at all.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, val Value[V]) (value V, found bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "cache.GetOrSet", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	var zero V
	raw, expired, err := c.backend.Get(ctx, key)
	if err != nil {
		c.fail(span, "get_or_set", err)
		return zero, false, fmt.Errorf("get %q: %w", key, err)
	}
	if raw != nil && !expired {
		v, err := c.decode(raw)
		if err != nil {
			c.fail(span, "get_or_set", err)
			return zero, false, fmt.Errorf("get %q: %w", key, err)
		}
		span.SetAttributes(attribute.Bool("cache.hit", true))
		metrics.CacheRequests.WithLabelValues("get_or_set", "hit").Inc()
		return v, true, nil
	}

	v, written, err := c.set(ctx, span, "get_or_set", key, val)
	if err != nil || written {
		return v, written, err
	}
	if raw == nil {
		return zero, false, nil
	}

	stale, err := c.decode(raw)
	if err != nil {
		c.fail(span, "get_or_set", err)
		return zero, false, fmt.Errorf("get %q: %w", key, err)
	}
	span.SetAttributes(attribute.Bool("cache.expired", true))
	metrics.CacheRequests.WithLabelValues("get_or_set", "stale").Inc()
	return stale, true, nil
}

// Delete removes key. Deleting an absent key succeeds.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key is stored, expired or not.
func (c *Cache[V]) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := c.backend.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", key, err)
	}
	return ok, nil
}

// GetByTTL lists keys that expire within window from now, soonest first.
func (c *Cache[V]) GetByTTL(ctx context.Context, window time.Duration) ([]string, error) {
	keys, err := c.backend.GetByTTL(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("get by ttl: %w", err)
	}
	return keys, nil
}

// GetExpired lists keys whose expiry instant has passed, soonest first.
func (c *Cache[V]) GetExpired(ctx context.Context) ([]string, error) {
	keys, err := c.backend.GetExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("get expired: %w", err)
	}
	return keys, nil
}

func (c *Cache[V]) decode(raw []byte) (V, error) {
	var v V
	if err := c.codec.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

func (c *Cache[V]) fail(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.CacheRequests.WithLabelValues(op, "error").Inc()
	if backend.IsUnavailable(err) {
		c.log.Warn("Backend unavailable", "operation", op, "error", err)
	}
}

func hitResult(expired bool) string {
	if expired {
		return "stale"
	}
	return "hit"
}
