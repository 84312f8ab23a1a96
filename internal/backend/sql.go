package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/onnwee/freon/internal/logger"
	"github.com/onnwee/freon/internal/utils"
)

// DefaultTable is the table used when SQLConfig.Table is empty.
const DefaultTable = "freon_cache"

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	name      string
	driver    string
	blobType  string
	floatType string
	// now evaluates to the current unix time in fractional seconds.
	now         string
	placeholder func(n int) string
}

var (
	DialectPostgres = Dialect{
		name:        "postgres",
		driver:      "postgres",
		blobType:    "BYTEA",
		floatType:   "DOUBLE PRECISION",
		now:         "CAST(EXTRACT(EPOCH FROM now()) AS DOUBLE PRECISION)",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
	DialectSQLite = Dialect{
		name:        "sqlite",
		driver:      "sqlite",
		blobType:    "BLOB",
		floatType:   "REAL",
		now:         "((julianday('now') - 2440587.5) * 86400.0)",
		placeholder: func(int) string { return "?" },
	}
)

// Name returns the dialect name used in logs and metrics.
func (d Dialect) Name() string { return d.name }

// SQLConfig configures a SQL backend. Either DSN or DB must be set.
type SQLConfig struct {
	Dialect Dialect
	DSN     string

	// DB, when set, is used instead of opening DSN. The caller keeps ownership.
	DB *sql.DB

	Table       string
	LockTimeout time.Duration
}

// SQL keeps each entry and its expiry in the same row, so the TTL index is an
// index on the expires_at column and every write touches both in one statement.
// The database clock decides expiry.
type SQL struct {
	db          *sql.DB
	ownsDB      bool
	dialect     Dialect
	lockTimeout time.Duration
	q           sqlQueries
	log         *slog.Logger
}

type sqlQueries struct {
	get, set, del, exists, expired, byTTL string
	lockAcquire, lockRelease              string
}

// NewSQL opens the database if needed and creates the cache and lock tables.
func NewSQL(ctx context.Context, cfg SQLConfig) (*SQL, error) {
	if cfg.Dialect.driver == "" {
		return nil, errors.New("sql backend: dialect is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !utils.ValidIdentifier(cfg.Table) {
		return nil, fmt.Errorf("sql backend: invalid table name %q", cfg.Table)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	s := &SQL{
		db:          cfg.DB,
		dialect:     cfg.Dialect,
		lockTimeout: cfg.LockTimeout,
		q:           buildQueries(cfg.Dialect, cfg.Table),
		log:         logger.WithComponent("backend." + cfg.Dialect.name),
	}

	if s.db == nil {
		if cfg.DSN == "" {
			return nil, fmt.Errorf("%s backend: DSN is required", cfg.Dialect.name)
		}
		db, err := sql.Open(cfg.Dialect.driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Dialect.name, err)
		}
		if cfg.Dialect.driver == DialectSQLite.driver {
			// A single connection serialises writers and keeps :memory: databases shared.
			db.SetMaxOpenConns(1)
		}
		s.db = db
		s.ownsDB = true
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		s.closeOwned()
		return nil, unavailable(cfg.Dialect.name+" ping", err)
	}

	if err := s.migrate(ctx, cfg.Table); err != nil {
		s.closeOwned()
		return nil, err
	}

	s.log.Info("SQL backend ready", "table", cfg.Table)
	return s, nil
}

func buildQueries(d Dialect, table string) sqlQueries {
	p := d.placeholder
	locks := table + "_locks"
	return sqlQueries{
		get: fmt.Sprintf(`SELECT value, expires_at < %s FROM %s WHERE cache_key = %s`,
			d.now, table, p(1)),
		set: fmt.Sprintf(`INSERT INTO %s (cache_key, value, expires_at) VALUES (%s, %s, %s + %s)
ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			table, p(1), p(2), d.now, p(3)),
		del: fmt.Sprintf(`DELETE FROM %s WHERE cache_key = %s`, table, p(1)),
		exists: fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE cache_key = %s`,
			table, p(1)),
		expired: fmt.Sprintf(`SELECT cache_key FROM %s WHERE expires_at <= %s ORDER BY expires_at, cache_key`,
			table, d.now),
		byTTL: fmt.Sprintf(`SELECT cache_key FROM %s WHERE expires_at >= %s AND expires_at <= %s + %s ORDER BY expires_at, cache_key`,
			table, d.now, d.now, p(1)),
		lockAcquire: fmt.Sprintf(`INSERT INTO %s (lock_name, token, expires_at) VALUES (%s, %s, %s + %s)
ON CONFLICT (lock_name) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
WHERE %s.expires_at < %s`,
			locks, p(1), p(2), d.now, p(3), locks, d.now),
		lockRelease: fmt.Sprintf(`DELETE FROM %s WHERE lock_name = %s AND token = %s`,
			locks, p(1), p(2)),
	}
}

func (s *SQL) migrate(ctx context.Context, table string) error {
	d := s.dialect
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	cache_key TEXT PRIMARY KEY,
	value %s NOT NULL,
	expires_at %s NOT NULL
)`, table, d.blobType, d.floatType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)`, table, table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_locks (
	lock_name TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at %s NOT NULL
)`, table, d.floatType),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", d.name, err)
		}
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expired bool
	)
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&value, &expired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, true, nil
	}
	if err != nil {
		return nil, true, unavailable(s.dialect.name+" get", err)
	}
	return present(value), expired, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx, s.q.set, key, present(value), ttl.Seconds()); err != nil {
		return unavailable(s.dialect.name+" set", err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.del, key); err != nil {
		return unavailable(s.dialect.name+" delete", err)
	}
	return nil
}

func (s *SQL) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.q.exists, key).Scan(&n); err != nil {
		return false, unavailable(s.dialect.name+" exists", err)
	}
	return n > 0, nil
}

func (s *SQL) GetExpired(ctx context.Context) ([]string, error) {
	return s.keys(ctx, "get expired", s.q.expired)
}

func (s *SQL) GetByTTL(ctx context.Context, window time.Duration) ([]string, error) {
	return s.keys(ctx, "get by ttl", s.q.byTTL, window.Seconds())
}

func (s *SQL) keys(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(s.dialect.name+" "+op, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable(s.dialect.name+" "+op, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(s.dialect.name+" "+op, err)
	}
	return keys, nil
}

func (s *SQL) Lock(key string) Lock {
	return &sqlLock{
		s:     s,
		name:  LockName(key),
		token: uuid.NewString(),
	}
}

// Close closes the database if this backend opened it.
func (s *SQL) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *SQL) closeOwned() {
	if s.ownsDB {
		_ = s.db.Close()
	}
}

// sqlLock is a row in the locks table. An expired row may be taken over by
// the next acquirer.
type sqlLock struct {
	s     *SQL
	name  string
	token string
}

func (l *sqlLock) TryAcquire(ctx context.Context) (bool, error) {
	res, err := l.s.db.ExecContext(ctx, l.s.q.lockAcquire, l.name, l.token, l.s.lockTimeout.Seconds())
	if err != nil {
		return false, unavailable(l.s.dialect.name+" lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(l.s.dialect.name+" lock", err)
	}
	return n == 1, nil
}

func (l *sqlLock) Release(ctx context.Context) error {
	if _, err := l.s.db.ExecContext(ctx, l.s.q.lockRelease, l.name, l.token); err != nil {
		return unavailable(l.s.dialect.name+" unlock", err)
	}
	return nil
}

