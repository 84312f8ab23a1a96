package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/freon/internal/circuitbreaker"
)

// NewBreaker returns a circuit breaker that only counts ErrUnavailable
// failures, so cancelled requests never trip it.
func NewBreaker(name string, failures int, timeout time.Duration) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             name,
		FailureThreshold: failures,
		Timeout:          timeout,
		IsFailure:        IsUnavailable,
	})
}

// WithBreaker guards every call to next, lock calls included, with cb.
// While the breaker is open calls fail fast with an ErrUnavailable error.
func WithBreaker(next Backend, cb *circuitbreaker.CircuitBreaker) Backend {
	return &breakerBackend{next: next, cb: cb}
}

type breakerBackend struct {
	next Backend
	cb   *circuitbreaker.CircuitBreaker
}

func (b *breakerBackend) call(fn func() error) error {
	err := b.cb.Call(fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (b *breakerBackend) Get(ctx context.Context, key string) (value []byte, expired bool, err error) {
	expired = true
	err = b.call(func() error {
		var e error
		value, expired, e = b.next.Get(ctx, key)
		return e
	})
	return value, expired, err
}

func (b *breakerBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.call(func() error { return b.next.Set(ctx, key, value, ttl) })
}

func (b *breakerBackend) Delete(ctx context.Context, key string) error {
	return b.call(func() error { return b.next.Delete(ctx, key) })
}

func (b *breakerBackend) Exists(ctx context.Context, key string) (ok bool, err error) {
	err = b.call(func() error {
		var e error
		ok, e = b.next.Exists(ctx, key)
		return e
	})
	return ok, err
}

func (b *breakerBackend) GetExpired(ctx context.Context) (keys []string, err error) {
	err = b.call(func() error {
		var e error
		keys, e = b.next.GetExpired(ctx)
		return e
	})
	return keys, err
}

func (b *breakerBackend) GetByTTL(ctx context.Context, window time.Duration) (keys []string, err error) {
	err = b.call(func() error {
		var e error
		keys, e = b.next.GetByTTL(ctx, window)
		return e
	})
	return keys, err
}

func (b *breakerBackend) Lock(key string) Lock {
	return &breakerLock{b: b, next: b.next.Lock(key)}
}

func (b *breakerBackend) Close() error {
	return b.next.Close()
}

type breakerLock struct {
	b    *breakerBackend
	next Lock
}

func (l *breakerLock) TryAcquire(ctx context.Context) (ok bool, err error) {
	err = l.b.call(func() error {
		var e error
		ok, e = l.next.TryAcquire(ctx)
		return e
	})
	return ok, err
}

// Release bypasses an open breaker. A held lease must always get the chance
// to be returned.
func (l *breakerLock) Release(ctx context.Context) error {
	return l.next.Release(ctx)
}
