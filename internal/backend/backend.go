// Package backend defines the storage contract behind the cache facade and
// its implementations.
//
// Every backend keeps two views of the same entries: the primary key space
// holding raw encoded bytes, and a TTL index mapping each key to its absolute
// expiry instant, ordered by that instant. A successful Set or Delete changes
// both views as one unit; no reader can observe a value without its expiry or
// an expiry without its value.
//
// Expiry is observed lazily. Backends never refuse to return a value whose
// expiry instant has passed; they report it together with expired=true and
// leave the decision to the caller. Nothing in this package physically removes
// expired entries.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultLockTimeout bounds how long a crashed or slow lock holder can block others.
	DefaultLockTimeout = time.Second

	// DefaultTTLKey names the sorted set holding the TTL index in shared stores.
	DefaultTTLKey = "freon:ttls"

	lockSuffix = "_lock"
)

var (
	// ErrUnavailable marks failures to reach or use the underlying store.
	// It is never used for absent keys.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrUnknownKind is returned by Open for an unregistered backend kind.
	ErrUnknownKind = errors.New("unknown backend kind")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend closed")
)

// Backend is the capability set every storage variant implements.
type Backend interface {
	// Get returns the stored bytes and whether the entry's expiry instant has
	// passed. An absent key yields (nil, true, nil).
	Get(ctx context.Context, key string) (value []byte, expired bool, err error)

	// Set stores value and records now+ttl in the TTL index as one unit.
	// A negative ttl produces an entry that is already expired.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry and its TTL record. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error

	// Exists checks the primary store only; expired entries still exist.
	Exists(ctx context.Context, key string) (bool, error)

	// GetExpired lists keys whose expiry instant is at or before now, soonest first.
	GetExpired(ctx context.Context) ([]string, error)

	// GetByTTL lists keys expiring within [now, now+window], soonest first.
	// Already expired keys are not included.
	GetByTTL(ctx context.Context, window time.Duration) ([]string, error)

	// Lock returns a handle on the lock named LockName(key). Creating the
	// handle does not acquire it.
	Lock(key string) Lock

	// Close releases resources owned by the backend.
	Close() error
}

// Lock is a key-scoped, non-reentrant mutual exclusion token with a bounded
// lifetime. The lifetime is enforced by the store itself: a lease that is not
// released expires on its own.
type Lock interface {
	// TryAcquire attempts to take the lock without waiting. It returns false,
	// nil when another holder has it.
	TryAcquire(ctx context.Context) (bool, error)

	// Release gives the lock up if this handle still holds it. Releasing a lock
	// that expired or was never acquired is a no-op.
	Release(ctx context.Context) error
}

// LockName returns the name of the lock guarding writes to key.
func LockName(key string) string {
	return key + lockSuffix
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// unavailable wraps a transport or driver error. Context errors are passed
// through unchanged so cancellation is not mistaken for an outage.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// present returns a non-nil copy of b so that an empty stored value is never
// confused with absence.
func present(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
