package cache

import (
	"context"
	"time"
)

// Value is what Set and GetOrSet store: either a literal or a producer that is
// only called once the writer holds the key's lock. The TTL travels with it.
type Value[V any] struct {
	literal V
	produce func(ctx context.Context) (V, error)

	ttl     time.Duration
	ttlFunc func(V) time.Duration
}

// Literal stores v as is.
func Literal[V any](v V) Value[V] {
	return Value[V]{literal: v}
}

// Producer stores the result of fn. Callers that lose the lock race never run fn.
func Producer[V any](fn func(ctx context.Context) (V, error)) Value[V] {
	return Value[V]{produce: fn}
}

// TTL sets a fixed time-to-live. Zero means the cache default; a negative
// TTL stores an entry that is already expired.
func (v Value[V]) TTL(d time.Duration) Value[V] {
	v.ttl = d
	v.ttlFunc = nil
	return v
}

// TTLFunc derives the time-to-live from the resolved value.
func (v Value[V]) TTLFunc(fn func(V) time.Duration) Value[V] {
	v.ttlFunc = fn
	return v
}

func (v Value[V]) resolve(ctx context.Context) (V, error) {
	if v.produce != nil {
		return v.produce(ctx)
	}
	return v.literal, nil
}

func (v Value[V]) ttlFor(resolved V, def time.Duration) time.Duration {
	ttl := v.ttl
	if v.ttlFunc != nil {
		ttl = v.ttlFunc(resolved)
	}
	if ttl == 0 {
		return def
	}
	return ttl
}
