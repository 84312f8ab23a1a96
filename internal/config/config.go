package config

import (
	"os"
	"strings"
	"time"

	"github.com/onnwee/freon/internal/backend"
	"github.com/onnwee/freon/internal/codec"
	"github.com/onnwee/freon/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// Cache
	Backend     backend.Kind
	Codec       codec.Kind
	DefaultTTL  time.Duration
	LockTimeout time.Duration
	TTLKey      string
	// Redis backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	// SQL backends
	DatabaseURL string
	SQLTable    string
	// Backend circuit breaker (remote backends only)
	CBFailureThreshold int
	CBTimeout          time.Duration
	// HTTP server
	HTTPAddr           string
	ShutdownTimeout    time.Duration
	MaxBodyBytes       int64
	CORSAllowedOrigins []string
	// Security settings
	RateLimitGlobal      float64 // requests per second globally
	RateLimitGlobalBurst int     // burst size for global rate limit
	RateLimitPerIP       float64 // requests per second per IP
	RateLimitPerIPBurst  int     // burst size for per-IP rate limit
	EnableRateLimit      bool
	// Background loops
	MetricsInterval time.Duration   // expiry gauge refresh
	WatchInterval   time.Duration   // websocket expiry push
	ExpiryWindows   []time.Duration // windows reported by the expiring gauge
	// Observability settings
	LogLevel          string
	OTELEnabled       bool
	OTELEndpoint      string
	OTELSampleRate    float64
	SentryDSN         string
	SentryEnvironment string
	SentryRelease     string
	SentrySampleRate  float64
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		Backend:     backend.Kind(strings.ToLower(utils.GetEnv("FREON_BACKEND", string(backend.KindMemory)))),
		Codec:       codec.Kind(strings.ToLower(utils.GetEnv("FREON_CODEC", string(codec.KindJSON)))),
		DefaultTTL:  utils.GetEnvAsSeconds("FREON_DEFAULT_TTL", time.Hour),
		LockTimeout: utils.GetEnvAsMillis("FREON_LOCK_TIMEOUT_MS", backend.DefaultLockTimeout),
		TTLKey:      utils.GetEnv("FREON_TTL_KEY", backend.DefaultTTLKey),

		RedisAddr:     utils.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       utils.GetEnvAsInt("REDIS_DB", 0),
		RedisPoolSize: utils.GetEnvAsInt("REDIS_POOL_SIZE", 10),

		DatabaseURL: utils.GetEnv("DATABASE_URL", ""),
		SQLTable:    utils.GetEnv("FREON_SQL_TABLE", backend.DefaultTable),

		CBFailureThreshold: utils.GetEnvAsInt("CB_FAILURE_THRESHOLD", 5),
		CBTimeout:          utils.GetEnvAsMillis("CB_TIMEOUT_MS", 30*time.Second),

		HTTPAddr:           utils.GetEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:    utils.GetEnvAsMillis("SHUTDOWN_TIMEOUT_MS", 10*time.Second),
		MaxBodyBytes:       int64(utils.GetEnvAsInt("MAX_BODY_BYTES", 1<<20)),
		CORSAllowedOrigins: utils.GetEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}, ","),

		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),

		MetricsInterval: utils.GetEnvAsMillis("METRICS_INTERVAL_MS", 15*time.Second),
		WatchInterval:   utils.GetEnvAsMillis("WATCH_INTERVAL_MS", 5*time.Second),
		ExpiryWindows:   parseWindows(utils.GetEnvAsSlice("FREON_EXPIRY_WINDOWS", []string{"60", "3600"}, ",")),

		LogLevel:          strings.ToLower(utils.GetEnv("LOG_LEVEL", "info")),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      utils.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         utils.GetEnv("SENTRY_DSN", ""),
		SentryEnvironment: utils.GetEnv("SENTRY_ENVIRONMENT", utils.GetEnv("ENV", "development")),
		SentryRelease:     utils.GetEnv("SENTRY_RELEASE", ""),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

// BackendOptions maps the configuration onto backend registry options.
func (c *Config) BackendOptions() backend.Options {
	return backend.Options{
		LockTimeout:   c.LockTimeout,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisPoolSize: c.RedisPoolSize,
		TTLKey:        c.TTLKey,
		DSN:           c.DatabaseURL,
		Table:         c.SQLTable,
	}
}

// parseWindows reads second counts; invalid or non-positive entries are skipped.
func parseWindows(raw []string) []time.Duration {
	out := make([]time.Duration, 0, len(raw))
	for _, s := range utils.UniqueStrings(raw) {
		d, err := time.ParseDuration(s + "s")
		if err != nil || d <= 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}
