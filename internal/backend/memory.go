package backend

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// MemoryConfig controls the in-process backend.
//
//   - LockTimeout <= 0 means DefaultLockTimeout
//   - Now == nil means time.Now; tests inject a fake clock
type MemoryConfig struct {
	LockTimeout time.Duration
	Now         func() time.Time
}

// Memory is a single-process backend. Each instance owns its store; share the
// instance between caches to share data.
//
// The primary store and the TTL index live behind one mutex so that every
// write updates both under the same critical section.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	ttls   map[string]time.Time // key -> expiry, point lookups into index
	index  *btree.BTreeG[indexItem]
	closed bool

	locks       *lockTable
	lockTimeout time.Duration
	now         func() time.Time
}

// indexItem orders the TTL index by expiry, then key.
type indexItem struct {
	expiresAt time.Time
	key       string
}

func lessIndexItem(a, b indexItem) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.key < b.key
}

// NewMemory creates an empty in-process backend.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Memory{
		values:      make(map[string][]byte),
		ttls:        make(map[string]time.Time),
		index:       btree.NewG(16, lessIndexItem),
		locks:       newLockTable(cfg.Now),
		lockTimeout: cfg.LockTimeout,
		now:         cfg.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, true, ErrClosed
	}

	value, ok := m.values[key]
	if !ok {
		return nil, true, nil
	}
	expiresAt, ok := m.ttls[key]
	expired := !ok || m.now().After(expiresAt)
	return present(value), expired, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := m.now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if old, ok := m.ttls[key]; ok {
		m.index.Delete(indexItem{expiresAt: old, key: key})
	}
	m.values[key] = present(value)
	m.ttls[key] = expiresAt
	m.index.ReplaceOrInsert(indexItem{expiresAt: expiresAt, key: key})
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if old, ok := m.ttls[key]; ok {
		m.index.Delete(indexItem{expiresAt: old, key: key})
		delete(m.ttls, key)
	}
	delete(m.values, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.values[key]
	return ok, nil
}

func (m *Memory) GetExpired(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	keys := []string{}
	m.index.Ascend(func(it indexItem) bool {
		if it.expiresAt.After(now) {
			return false
		}
		keys = append(keys, it.key)
		return true
	})
	return keys, nil
}

func (m *Memory) GetByTTL(ctx context.Context, window time.Duration) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	from := m.now()
	to := from.Add(window)
	keys := []string{}
	m.index.AscendGreaterOrEqual(indexItem{expiresAt: from}, func(it indexItem) bool {
		if it.expiresAt.After(to) {
			return false
		}
		keys = append(keys, it.key)
		return true
	})
	return keys, nil
}

func (m *Memory) Lock(key string) Lock {
	return &memoryLock{
		table:   m.locks,
		name:    LockName(key),
		token:   uuid.NewString(),
		timeout: m.lockTimeout,
	}
}

// Close drops all entries. Close is safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.values = make(map[string][]byte)
	m.ttls = make(map[string]time.Time)
	m.index.Clear(false)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// minLeaseSweep is the table size below which expired leases are left
// for acquire to overwrite.
const minLeaseSweep = 64

// lockTable holds in-process lock leases keyed by lock name.
type lockTable struct {
	mu      sync.Mutex
	leases  map[string]lease
	now     func() time.Time
	sweepAt int
}

type lease struct {
	token     string
	expiresAt time.Time
}

func newLockTable(now func() time.Time) *lockTable {
	return &lockTable{leases: make(map[string]lease), now: now, sweepAt: minLeaseSweep}
}

// acquire grants the lease when the name is free or its previous lease ran out.
func (t *lockTable) acquire(name, token string, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if l, ok := t.leases[name]; ok && now.Before(l.expiresAt) {
		return false
	}
	t.leases[name] = lease{token: token, expiresAt: now.Add(timeout)}
	if len(t.leases) >= t.sweepAt {
		t.sweep(now)
	}
	return true
}

// sweep drops leases that ran out without a release. The next sweep waits
// until the table doubles, keeping acquire amortized O(1).
func (t *lockTable) sweep(now time.Time) {
	for name, l := range t.leases {
		if !now.Before(l.expiresAt) {
			delete(t.leases, name)
		}
	}
	t.sweepAt = max(2*len(t.leases), minLeaseSweep)
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}

func (t *lockTable) release(name, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.leases[name]; ok && l.token == token {
		delete(t.leases, name)
	}
}

type memoryLock struct {
	table   *lockTable
	name    string
	token   string
	timeout time.Duration
}

func (l *memoryLock) TryAcquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.table.acquire(l.name, l.token, l.timeout), nil
}

func (l *memoryLock) Release(ctx context.Context) error {
	l.table.release(l.name, l.token)
	return nil
}
