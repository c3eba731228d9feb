package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vestchain/config"
	"vestchain/export"
	"vestchain/gateway/auth"
	"vestchain/gateway/middleware"
	"vestchain/gateway/routes"
	"vestchain/observability/logging"
	"vestchain/observability/metrics"
	telemetry "vestchain/observability/otel"
)

const (
	replayCacheSize = 4096
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfgPath := flag.String("config", "./vestd.toml", "path to the daemon configuration (TOML or YAML)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "vestd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(os.Getenv("VEST_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("vestd", env, logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authorization := "direct"
	if cfg.Timelock.Enabled {
		authorization = "delayed"
	}
	otlpHeaders := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:   "vestd",
		Environment:   env,
		Endpoint:      cfg.Telemetry.Endpoint,
		Insecure:      cfg.Telemetry.Insecure,
		Headers:       otlpHeaders,
		Metrics:       cfg.Telemetry.Metrics,
		Traces:        cfg.Telemetry.Traces,
		PoolToken:     cfg.Pool.Token,
		PoolCurve:     cfg.Pool.Curve,
		Authorization: authorization,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		logger.Info("telemetry enabled",
			slog.String("endpoint", cfg.Telemetry.Endpoint),
			slog.Bool("metrics", cfg.Telemetry.Metrics),
			slog.Bool("traces", cfg.Telemetry.Traces),
			slog.Any("headers", telemetry.HeaderKeys(telemetry.ParseHeaders(otlpHeaders))))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	now := func() int64 { return time.Now().Unix() }
	n, err := openNode(cfg, logger, now)
	if err != nil {
		return err
	}
	defer n.Close()
	if err := n.bootstrap(cfg, now()); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	handler, err := buildHandler(cfg, n, logger)
	if err != nil {
		return err
	}
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "vestd")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("vestd listening",
			"addr", cfg.ListenAddress,
			"storage", cfg.StorageBackend,
			"authorization", n.engine.Authorization().String(),
			"auth", cfg.Auth.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

func buildHandler(cfg *config.Config, n *node, logger *slog.Logger) (http.Handler, error) {
	var (
		verifier *auth.Verifier
		replay   *auth.ReplayGuard
	)
	if cfg.Auth.Enabled {
		var err error
		verifier, err = auth.NewVerifier(cfg.Auth.HMACSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ClockSkew.Duration)
		if err != nil {
			return nil, fmt.Errorf("configure auth: %w", err)
		}
		replay = auth.NewReplayGuard(cfg.Auth.ClockSkew.Duration*2, replayCacheSize)
	} else {
		logger.Warn("authentication disabled; callers are taken from the " + middleware.HeaderCaller + " header")
	}
	authn := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:       cfg.Auth.Enabled,
		OptionalPaths: cfg.Auth.OptionalPaths,
	}, verifier, replay, logger)

	limits := map[string]middleware.RateLimit{
		routes.RateLimitRead: {RatePerSecond: cfg.RateLimit.RatePerSecond, Burst: cfg.RateLimit.Burst},
		routes.RateLimitWrite: {
			RatePerSecond: cfg.RateLimit.RatePerSecond / 4,
			Burst:         max(cfg.RateLimit.Burst/4, 1),
		},
	}

	exportDir := filepath.Join(cfg.DataDir, "exports")
	exporter := func(ctx context.Context) (*export.Manifest, error) {
		records, err := n.events.All(ctx)
		if err != nil {
			return nil, err
		}
		name := "events-" + time.Now().UTC().Format("20060102T150405Z")
		return export.WriteFiles(exportDir, name, records)
	}

	vestMetrics := metrics.Vesting()
	if pool, err := n.engine.Pool(); err == nil {
		vestMetrics.SetPool(pool.TotalPurchased, pool.Available())
	}

	return routes.New(routes.Config{
		Ledger:        n.engine,
		Events:        n.events,
		Exporter:      exporter,
		Metrics:       vestMetrics,
		Authenticator: authn,
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: true}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", auth.HeaderNonce, middleware.HeaderCaller},
		},
		Logger: logger,
	})
}
