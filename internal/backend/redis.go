package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/freon/internal/logger"
)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// TTLKey names the sorted set holding the TTL index. Defaults to DefaultTTLKey.
	TTLKey      string
	LockTimeout time.Duration

	// Client, when set, is used instead of dialing Addr. The caller keeps
	// ownership and Close does not close it.
	Client redis.UniversalClient
}

// Redis stores values as plain string keys and the TTL index as one sorted
// set scored by expiry (unix seconds, fractional). Every compound operation
// runs as a single Lua script so the value and its score change together, and
// the server clock is the only clock involved.
type Redis struct {
	client      redis.UniversalClient
	ownsClient  bool
	ttlKey      string
	lockTimeout time.Duration
	log         *slog.Logger
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.TTLKey == "" {
		cfg.TTLKey = DefaultTTLKey
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	r := &Redis{
		client:      cfg.Client,
		ttlKey:      cfg.TTLKey,
		lockTimeout: cfg.LockTimeout,
		log:         logger.WithComponent("backend.redis"),
	}

	if r.client == nil {
		if cfg.Addr == "" {
			cfg.Addr = "localhost:6379"
		}
		if cfg.PoolSize <= 0 {
			cfg.PoolSize = 10
		}
		r.client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolTimeout:  4 * time.Second,
		})
		r.ownsClient = true
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		if r.ownsClient {
			_ = r.client.Close()
		}
		return nil, unavailable("redis ping", err)
	}

	r.log.Info("Redis backend connected", "addr", cfg.Addr, "ttl_key", r.ttlKey)
	return r, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := getScript.Run(ctx, r.client, []string{key, r.ttlKey}).Slice()
	if err != nil {
		return nil, true, unavailable("redis get", err)
	}
	if len(res) != 2 {
		return nil, true, fmt.Errorf("redis get: unexpected reply length %d", len(res))
	}

	expired, _ := res[1].(int64)
	switch v := res[0].(type) {
	case nil:
		return nil, true, nil
	case string:
		return present([]byte(v)), expired == 1, nil
	default:
		return nil, true, fmt.Errorf("redis get: unexpected value type %T", v)
	}
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := setScript.Run(ctx, r.client, []string{key, r.ttlKey}, value, ttl.Seconds()).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := deleteScript.Run(ctx, r.client, []string{key, r.ttlKey}).Err(); err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("redis exists", err)
	}
	return n == 1, nil
}

func (r *Redis) GetExpired(ctx context.Context) ([]string, error) {
	keys, err := getExpiredScript.Run(ctx, r.client, []string{r.ttlKey}).StringSlice()
	if err != nil {
		return nil, unavailable("redis get expired", err)
	}
	return keys, nil
}

func (r *Redis) GetByTTL(ctx context.Context, window time.Duration) ([]string, error) {
	keys, err := getByTTLScript.Run(ctx, r.client, []string{r.ttlKey}, window.Seconds()).StringSlice()
	if err != nil {
		return nil, unavailable("redis get by ttl", err)
	}
	return keys, nil
}

func (r *Redis) Lock(key string) Lock {
	return &redisLock{
		client:  r.client,
		name:    LockName(key),
		token:   uuid.NewString(),
		timeout: r.lockTimeout,
	}
}

// Close closes the client if this backend dialed it.
func (r *Redis) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}

// redisLock is a SET NX PX lease. The token makes release safe after the
// lease expired and someone else took it.
type redisLock struct {
	client  redis.UniversalClient
	name    string
	token   string
	timeout time.Duration
}

func (l *redisLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.name, l.token, l.timeout).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, unavailable("redis lock", err)
	}
	return ok, nil
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.name}, l.token).Err(); err != nil {
		return unavailable("redis unlock", err)
	}
	return nil
}
