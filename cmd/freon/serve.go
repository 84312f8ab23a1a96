package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/freon/internal/errorreporting"
	"github.com/onnwee/freon/internal/logger"
	"github.com/onnwee/freon/internal/server"
	"github.com/onnwee/freon/internal/tracing"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd.Context())
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			logger.Info("Starting freon", "version", version, "backend", cfg.Backend, "codec", cfg.Codec, "log_level", cfg.LogLevel)

			if err := errorreporting.Init(errorreporting.Options{
				DSN:         cfg.SentryDSN,
				Environment: cfg.SentryEnvironment,
				Release:     cfg.SentryRelease,
				SampleRate:  cfg.SentrySampleRate,
			}); err != nil {
				logger.Warn("Failed to initialize error reporting", "error", err)
			} else if errorreporting.IsSentryEnabled() {
				logger.Info("Error reporting initialized", "environment", cfg.SentryEnvironment)
				defer errorreporting.Flush(2 * time.Second)
			}

			shutdownTracing, err := tracing.Init(tracing.Options{
				ServiceName: "freon",
				Version:     version,
				Enabled:     cfg.OTELEnabled,
				Endpoint:    cfg.OTELEndpoint,
				SampleRate:  cfg.OTELSampleRate,
			})
			if err != nil {
				logger.Warn("Failed to initialize tracing", "error", err)
			} else {
				defer func() {
					if err := shutdownTracing(context.Background()); err != nil {
						logger.Error("Failed to shutdown tracer", "error", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("freon stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}
