package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokenwise/tokenmeter/internal/app"
	"github.com/tokenwise/tokenmeter/internal/auth"
	"github.com/tokenwise/tokenmeter/internal/cache"
	"github.com/tokenwise/tokenmeter/internal/config"
	"github.com/tokenwise/tokenmeter/internal/ratelimit"
	"github.com/tokenwise/tokenmeter/internal/server"
	"github.com/tokenwise/tokenmeter/internal/telemetry"
	"github.com/tokenwise/tokenmeter/internal/tokenizer"
	"github.com/tokenwise/tokenmeter/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	setupLogging(cfg.Mode)
	slog.Info("starting tokenmeter", "version", version, "addr", cfg.Server.Addr, "mode", cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	// Metrics
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(promReg)
		metricsHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg})
	}

	// Tokenizer registry
	registry := tokenizer.NewRegistry(tokenizer.Tiktoken)

	// Count memoization cache
	var countCache cache.Cache
	if cfg.Cache.Enabled {
		mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		countCache = mem
	}

	// Authenticator
	var authenticator *auth.BasicAuth
	if cfg.Auth.IsEnabled() {
		authenticator = auth.New(cfg.Auth.Username, cfg.Auth.Password)
	} else {
		slog.Warn("authentication disabled: all requests are treated as authorized")
		authenticator = auth.Disabled()
	}

	// Rate limiter + janitor
	var (
		limiters *ratelimit.Registry
		workers  []worker.Worker
	)
	if cfg.RateLimit.Requests > 0 {
		limiters = ratelimit.NewRegistry(ratelimit.Policy{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		})
		maxIdle := 10 * cfg.RateLimit.Window
		if maxIdle < 10*time.Minute {
			maxIdle = 10 * time.Minute
		}
		workers = append(workers, worker.NewLimiterJanitor(limiters, time.Minute, maxIdle))
	}

	// Wire services
	counter := app.NewCounterService(registry, app.Options{
		DefaultModel:  cfg.Tokenizer.DefaultModel,
		MaxTextLength: cfg.Tokenizer.MaxTextLength,
		MaxBatchSize:  cfg.Tokenizer.MaxBatchSize,
		Cache:         countCache,
		Metrics:       metrics,
	})

	handler := server.New(server.Deps{
		Auth:           authenticator,
		Counter:        counter,
		RateLimiter:    limiters,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		ReadyCheck: func(context.Context) error {
			// Ready once the default model's codec resolves; this also warms
			// the registry before traffic arrives.
			_, err := registry.Resolve(cfg.Tokenizer.DefaultModel)
			return err
		},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	workerErrCh := make(chan error, 1)
	if len(workers) > 0 {
		go func() {
			if err := worker.NewRunner(workers...).Run(ctx); err != nil {
				workerErrCh <- err
			}
		}()
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("tokenmeter ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerErrCh:
		return err
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("tokenmeter stopped")
	return nil
}

// setupLogging configures the default slog logger for the deployment mode:
// verbose text output in development, JSON at Info level in production.
func setupLogging(mode string) {
	if mode == config.ModeDevelopment {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
}
