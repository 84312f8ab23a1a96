package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind names a backend variant.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
)

// Options carries the union of per-variant settings. Each constructor reads
// the fields it understands and ignores the rest.
type Options struct {
	LockTimeout time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	TTLKey        string
	RedisClient   redis.UniversalClient

	// SQL
	DSN   string
	Table string
	DB    *sql.DB
}

// Constructor builds a backend from options.
type Constructor func(ctx context.Context, opts Options) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Constructor{
		KindMemory: func(ctx context.Context, opts Options) (Backend, error) {
			return NewMemory(MemoryConfig{LockTimeout: opts.LockTimeout}), nil
		},
		KindRedis: func(ctx context.Context, opts Options) (Backend, error) {
			return NewRedis(ctx, RedisConfig{
				Addr:        opts.RedisAddr,
				Password:    opts.RedisPassword,
				DB:          opts.RedisDB,
				PoolSize:    opts.RedisPoolSize,
				TTLKey:      opts.TTLKey,
				LockTimeout: opts.LockTimeout,
				Client:      opts.RedisClient,
			})
		},
		KindPostgres: func(ctx context.Context, opts Options) (Backend, error) {
			return NewSQL(ctx, SQLConfig{
				Dialect:     DialectPostgres,
				DSN:         opts.DSN,
				DB:          opts.DB,
				Table:       opts.Table,
				LockTimeout: opts.LockTimeout,
			})
		},
		KindSQLite: func(ctx context.Context, opts Options) (Backend, error) {
			return NewSQL(ctx, SQLConfig{
				Dialect:     DialectSQLite,
				DSN:         opts.DSN,
				DB:          opts.DB,
				Table:       opts.Table,
				LockTimeout: opts.LockTimeout,
			})
		},
	}
)

// Register adds or replaces the constructor for kind.
func Register(kind Kind, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// Open constructs the backend registered under kind.
func Open(ctx context.Context, kind Kind, opts Options) (Backend, error) {
	registryMu.RLock()
	ctor, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ctor(ctx, opts)
}

// Kinds lists the registered backend kinds in name order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Remote reports whether kind stores data outside the process.
func (k Kind) Remote() bool {
	return k != KindMemory
}
