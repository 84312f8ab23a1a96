package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// runBackendSuite checks the storage contract against a fresh backend per
// subtest. It only relies on the backend's own clock, so expiry is driven
// with negative and far-future TTLs.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetAbsent", func(t *testing.T) {
		b := newBackend(t)
		value, expired, err := b.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if value != nil || !expired {
			t.Fatalf("Get() = %q, %v; want nil, true", value, expired)
		}
	})

	t.Run("SetThenGetFresh", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		value, expired, err := b.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(value) != "v" || expired {
			t.Fatalf("Get() = %q, %v; want v, false", value, expired)
		}
	})

	t.Run("EmptyValueIsPresent", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Set(ctx, "empty", []byte{}, time.Hour); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		value, expired, err := b.Get(ctx, "empty")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if value == nil || len(value) != 0 || expired {
			t.Fatalf("Get() = %#v, %v; want empty non-nil, false", value, expired)
		}
	})

	t.Run("ExpiredValueStillReturned", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Set(ctx, "old", []byte("stale"), -time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		value, expired, err := b.Get(ctx, "old")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(value) != "stale" || !expired {
			t.Fatalf("Get() = %q, %v; want stale, true", value, expired)
		}
		ok, err := b.Exists(ctx, "old")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if !ok {
			t.Fatal("Exists() = false for an expired entry")
		}
	})

	t.Run("OverwriteRefreshesTTL", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Set(ctx, "k", []byte("1"), -time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := b.Set(ctx, "k", []byte("2"), time.Hour); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		value, expired, _ := b.Get(ctx, "k")
		if string(value) != "2" || expired {
			t.Fatalf("Get() = %q, %v; want 2, false", value, expired)
		}
		keys, err := b.GetExpired(ctx)
		if err != nil {
			t.Fatalf("GetExpired() error = %v", err)
		}
		if len(keys) != 0 {
			t.Fatalf("GetExpired() = %v, want none", keys)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Set(ctx, "k", []byte("v"), -time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := b.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete() #%d error = %v", i, err)
			}
		}
		if ok, _ := b.Exists(ctx, "k"); ok {
			t.Fatal("Exists() = true after Delete")
		}
		keys, _ := b.GetExpired(ctx)
		if len(keys) != 0 {
			t.Fatalf("GetExpired() = %v after Delete, want none", keys)
		}
	})

	t.Run("GetExpiredOrdered", func(t *testing.T) {
		b := newBackend(t)
		entries := []struct {
			key string
			ttl time.Duration
		}{
			{"a", -30 * time.Second},
			{"b", -10 * time.Second},
			{"c", -20 * time.Second},
			{"fresh", time.Hour},
		}
		for _, e := range entries {
			if err := b.Set(ctx, e.key, []byte(e.key), e.ttl); err != nil {
				t.Fatalf("Set(%s) error = %v", e.key, err)
			}
		}
		keys, err := b.GetExpired(ctx)
		if err != nil {
			t.Fatalf("GetExpired() error = %v", err)
		}
		if diff := cmp.Diff([]string{"a", "c", "b"}, keys); diff != "" {
			t.Fatalf("GetExpired() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("GetByTTLWindow", func(t *testing.T) {
		b := newBackend(t)
		entries := []struct {
			key string
			ttl time.Duration
		}{
			{"later", 100 * time.Second},
			{"soon", 10 * time.Second},
			{"far", 1000 * time.Second},
			{"gone", -5 * time.Second},
		}
		for _, e := range entries {
			if err := b.Set(ctx, e.key, []byte(e.key), e.ttl); err != nil {
				t.Fatalf("Set(%s) error = %v", e.key, err)
			}
		}
		keys, err := b.GetByTTL(ctx, 200*time.Second)
		if err != nil {
			t.Fatalf("GetByTTL() error = %v", err)
		}
		if diff := cmp.Diff([]string{"soon", "later"}, keys); diff != "" {
			t.Fatalf("GetByTTL() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("LockExclusive", func(t *testing.T) {
		b := newBackend(t)
		first := b.Lock("k")
		second := b.Lock("k")

		ok, err := first.TryAcquire(ctx)
		if err != nil || !ok {
			t.Fatalf("first TryAcquire() = %v, %v; want true", ok, err)
		}
		ok, err = second.TryAcquire(ctx)
		if err != nil || ok {
			t.Fatalf("second TryAcquire() = %v, %v; want false", ok, err)
		}

		// A handle that never acquired must not free someone else's lease.
		if err := second.Release(ctx); err != nil {
			t.Fatalf("second Release() error = %v", err)
		}
		if ok, _ := b.Lock("k").TryAcquire(ctx); ok {
			t.Fatal("lock was freed by a non-holder")
		}

		if err := first.Release(ctx); err != nil {
			t.Fatalf("first Release() error = %v", err)
		}
		ok, err = second.TryAcquire(ctx)
		if err != nil || !ok {
			t.Fatalf("TryAcquire() after release = %v, %v; want true", ok, err)
		}
	})

	t.Run("ConcurrentWritesKeepIndexInSync", func(t *testing.T) {
		b := newBackend(t)
		const writers, perWriter = 8, 24

		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			firstErr    error
			all         []string
			wantExpired []string
			wantLive    []string
		)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					key := fmt.Sprintf("w%d-%d", w, i)
					ttl := time.Hour
					if i%3 == 0 {
						ttl = -time.Minute
					}
					err := b.Set(ctx, key, []byte(key), ttl)
					deleted := err == nil && i%4 == 1
					if deleted {
						err = b.Delete(ctx, key)
					}

					mu.Lock()
					if err != nil && firstErr == nil {
						firstErr = err
					}
					all = append(all, key)
					switch {
					case deleted:
					case ttl < 0:
						wantExpired = append(wantExpired, key)
					default:
						wantLive = append(wantLive, key)
					}
					mu.Unlock()
				}
			}(w)
		}
		wg.Wait()
		if firstErr != nil {
			t.Fatalf("concurrent write error = %v", firstErr)
		}

		expired, err := b.GetExpired(ctx)
		if err != nil {
			t.Fatalf("GetExpired() error = %v", err)
		}
		live, err := b.GetByTTL(ctx, 2*time.Hour)
		if err != nil {
			t.Fatalf("GetByTTL() error = %v", err)
		}

		inExpired := make(map[string]bool, len(expired))
		for _, k := range expired {
			inExpired[k] = true
		}
		inLive := make(map[string]bool, len(live))
		for _, k := range live {
			inLive[k] = true
		}
		for _, k := range all {
			ok, err := b.Exists(ctx, k)
			if err != nil {
				t.Fatalf("Exists(%s) error = %v", k, err)
			}
			if ok == (inExpired[k] == inLive[k]) {
				t.Errorf("key %s: Exists=%v expired=%v expiring=%v; want stored keys in exactly one listing", k, ok, inExpired[k], inLive[k])
			}
		}

		sort.Strings(expired)
		sort.Strings(live)
		sort.Strings(wantExpired)
		sort.Strings(wantLive)
		if diff := cmp.Diff(wantExpired, expired); diff != "" {
			t.Errorf("GetExpired() mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(wantLive, live); diff != "" {
			t.Errorf("GetByTTL() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("LocksAreKeyScoped", func(t *testing.T) {
		b := newBackend(t)
		if ok, _ := b.Lock("a").TryAcquire(ctx); !ok {
			t.Fatal("TryAcquire(a) = false")
		}
		if ok, _ := b.Lock("b").TryAcquire(ctx); !ok {
			t.Fatal("TryAcquire(b) = false while only a is held")
		}
	})

	t.Run("LockDoesNotTouchData", func(t *testing.T) {
		b := newBackend(t)
		if ok, _ := b.Lock("k").TryAcquire(ctx); !ok {
			t.Fatal("TryAcquire() = false")
		}
		if ok, _ := b.Exists(ctx, "k"); ok {
			t.Fatal("Exists(k) = true after taking the lock")
		}
		keys, _ := b.GetByTTL(ctx, time.Hour)
		if len(keys) != 0 {
			t.Fatalf("GetByTTL() = %v, locks must not appear in the TTL index", keys)
		}
	})
}

func TestLockName(t *testing.T) {
	if got := LockName("user:1"); got != "user:1_lock" {
		t.Fatalf("LockName() = %q", got)
	}
}

func TestUnavailableKeepsContextErrors(t *testing.T) {
	err := unavailable("get", context.Canceled)
	if IsUnavailable(err) {
		t.Fatal("context cancellation classified as unavailable")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("context.Canceled lost in wrapping")
	}

	err = unavailable("get", errors.New("connection refused"))
	if !IsUnavailable(err) {
		t.Fatal("transport error not classified as unavailable")
	}
}
