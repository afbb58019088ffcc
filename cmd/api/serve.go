package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
	"github.com/bryanwahyu/ppsec-gateway/internal/application/cache"
	"github.com/bryanwahyu/ppsec-gateway/internal/config"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/export"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/httpserver"
	"github.com/bryanwahyu/ppsec-gateway/internal/middleware"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API gateway (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := application.SystemClock{}

	// archive
	archive, conn, err := openArchive(ctx, cfg, log, cfg.Archive.Migrate)
	if err != nil {
		return err
	}
	if conn != nil {
		defer conn.Close()
	}

	// exports
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	exporters, err := export.ForFormats(cfg.Export.Formats)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, "")
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := httpserver.NewMetrics(reg, reg)

	mgr := cache.New(eng, cache.Options{
		TTL:               cfg.TTL(),
		Interval:          cfg.RefreshInterval(),
		EngineTimeout:     cfg.EngineTimeout(),
		EnvironmentFilter: cfg.Engine.EnvironmentFilter,
		RefreshOnStart:    cfg.RefreshOnStart(),
		Archive:           archive,
		Store:             store,
		Exporters:         exporters,
		Advisor:           buildAdvisor(cfg),
		Observer:          metrics,
		Clock:             clock,
		Logger:            log,
	})
	defer mgr.Close()
	if err := mgr.Warm(ctx); err != nil {
		log.Warn("warm start skipped", "error", err)
	}

	limiter, err := buildLimiter(cfg, clock, log)
	if err != nil {
		return err
	}
	if limiter != nil {
		defer limiter.Close()
	}

	if cfg.AuthDisabled() {
		log.Warn("authentication disabled: every request has read and admin access")
	}

	checks := map[string]middleware.HealthChecker{}
	if conn != nil {
		checks["archive"] = &middleware.DatabaseHealthChecker{DB: conn}
	}

	handler := httpserver.NewRouter(mgr, httpserver.Options{
		Auth:    middleware.NewAuthenticator(authConfig(cfg), clock),
		Limiter: limiter,
		CORS: middleware.CORSConfig{
			Enabled:        cfg.CORS.Enabled,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
		},
		Swagger: cfg.Swagger.Enabled,
		Metrics: metrics,
		Checks:  checks,
		Version: version,
		Clock:   clock,
		Logger:  log,

		RequestTimeout: requestTimeout(cfg.Server.WriteTimeout),
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	servers := []*http.Server{srv}
	if cfg.Metrics.Addr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			log.Info("server listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}(s)
	}

	go mgr.Run(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error("server error", "error", runErr)
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "addr", s.Addr, "error", err)
		}
	}
	return runErr
}

func authConfig(cfg *config.Config) middleware.AuthConfig {
	keys := make([]middleware.APIKey, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys = append(keys, middleware.APIKey{
			Key:         k.Key,
			Name:        k.Name,
			Permissions: k.Permissions,
			ExpiresAt:   k.ExpiresAt,
		})
	}
	return middleware.AuthConfig{
		Enabled:   cfg.Auth.Enabled,
		APIKeys:   keys,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTIssuer: cfg.Auth.JWTIssuer,
	}
}

// buildLimiter returns nil when rate limiting is disabled. A configured Redis
// address shares the window across replicas.
func buildLimiter(cfg *config.Config, clock application.Clock, log *slog.Logger) (middleware.RateLimiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	limit := cfg.RateLimit.MaxRequestsPerMinute
	if r := cfg.RateLimit.Redis; r.Addr != "" {
		rl, err := middleware.NewRedisRateLimiter(r.Addr, r.Password, r.DB, limit, log)
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter: %w", err)
		}
		return rl, nil
	}
	return middleware.NewMemoryRateLimiter(limit, middleware.RateWindow, clock), nil
}

// requestTimeout leaves a margin under the server write timeout so a stalled
// cache wait still gets its 503 written. Zero selects the router default.
func requestTimeout(writeTimeout time.Duration) time.Duration {
	switch {
	case writeTimeout <= 0:
		return 0
	case writeTimeout > 2*time.Second:
		return writeTimeout - time.Second
	default:
		return writeTimeout / 2
	}
}
