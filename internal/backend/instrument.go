package backend

import (
	"context"
	"time"

	"github.com/onnwee/freon/internal/metrics"
)

// Instrument records per-operation counts and latencies for next under the
// backend label name.
func Instrument(next Backend, name string) Backend {
	return &instrumented{next: next, name: name}
}

type instrumented struct {
	next Backend
	name string
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BackendOperations.WithLabelValues(i.name, op, result).Inc()
	metrics.BackendOperationDuration.WithLabelValues(i.name, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, expired, err := i.next.Get(ctx, key)
	i.observe("get", start, err)
	return value, expired, err
}

func (i *instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := i.next.Set(ctx, key, value, ttl)
	i.observe("set", start, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe("delete", start, err)
	return err
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, key)
	i.observe("exists", start, err)
	return ok, err
}

func (i *instrumented) GetExpired(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := i.next.GetExpired(ctx)
	i.observe("get_expired", start, err)
	return keys, err
}

func (i *instrumented) GetByTTL(ctx context.Context, window time.Duration) ([]string, error) {
	start := time.Now()
	keys, err := i.next.GetByTTL(ctx, window)
	i.observe("get_by_ttl", start, err)
	return keys, err
}

func (i *instrumented) Lock(key string) Lock {
	return &instrumentedLock{i: i, next: i.next.Lock(key)}
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

type instrumentedLock struct {
	i    *instrumented
	next Lock
}

func (l *instrumentedLock) TryAcquire(ctx context.Context) (bool, error) {
	start := time.Now()
	ok, err := l.next.TryAcquire(ctx)
	l.i.observe("lock_acquire", start, err)
	return ok, err
}

func (l *instrumentedLock) Release(ctx context.Context) error {
	start := time.Now()
	err := l.next.Release(ctx)
	l.i.observe("lock_release", start, err)
	return err
}
