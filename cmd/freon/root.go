package main

import (
	"context"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/freon/internal/backend"
	"github.com/onnwee/freon/internal/cache"
	"github.com/onnwee/freon/internal/codec"
	"github.com/onnwee/freon/internal/config"
	"github.com/onnwee/freon/internal/logger"
	"github.com/onnwee/freon/internal/server"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags override the matching environment settings.
type globalFlags struct {
	backend string
	codec   string
	envFile string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "freon",
		Short: "Key/value cache with pluggable backends",
		Long: `freon is a key/value cache over memory, Redis, PostgreSQL or SQLite.

Values carry a TTL; expired values stay readable until overwritten, and
concurrent writers of the same key are kept apart by a short lock.
Configuration comes from the environment (see .env) and the flags below.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loadEnv(flags.envFile)
			// Overrides apply to this invocation only, not to the cached config.
			cfg := *config.Load()
			if flags.backend != "" {
				cfg.Backend = backend.Kind(strings.ToLower(flags.backend))
			}
			if flags.codec != "" {
				cfg.Codec = codec.Kind(strings.ToLower(flags.codec))
			}
			logger.Init(cfg.LogLevel)
			cmd.SetContext(withConfig(cmd.Context(), &cfg))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.backend, "backend", "", "backend kind: "+joinKinds(backend.Kinds()))
	pf.StringVar(&flags.codec, "codec", "", "codec kind: "+joinKinds(codec.Kinds()))
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(
		newServeCmd(),
		newGetCmd(),
		newSetCmd(),
		newDeleteCmd(),
		newExistsCmd(),
		newExpiredCmd(),
		newExpiringCmd(),
	)
	return root
}

// loadEnv reads a dotenv file without overriding variables already set.
func loadEnv(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logger.Debug("No env file loaded, using process environment", "path", path)
	}
}

func joinKinds[K ~string](kinds []K) string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return strings.Join(out, ", ")
}

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// configFrom returns the invocation's config, flag overrides applied.
func configFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Load()
}

// withCache opens the configured cache for one command and closes it after.
func withCache(ctx context.Context, fn func(*cache.Cache[any]) error) error {
	cfg := configFrom(ctx)
	if cfg.Backend == backend.KindMemory {
		logger.Warn("The memory backend does not outlive this command; use --backend or FREON_BACKEND to persist entries")
	}
	c, err := server.OpenCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Backend().Close()
	return fn(c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
