package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kevin07696/payment-batch/internal/adapters/postgres"
	"github.com/kevin07696/payment-batch/internal/app"
	"github.com/kevin07696/payment-batch/internal/config"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/handlers/batchrun"
	internalmw "github.com/kevin07696/payment-batch/internal/middleware"
	"github.com/kevin07696/payment-batch/pkg/logging"
	"github.com/kevin07696/payment-batch/pkg/middleware"
	"github.com/kevin07696/payment-batch/pkg/observability"
	"github.com/kevin07696/payment-batch/pkg/shutdown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", ports.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.ZapLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting payment batch service",
		ports.Int("port", cfg.Server.Port),
		ports.Int("metrics_port", cfg.Server.MetricsPort),
		ports.String("eft_formatter", cfg.EFT.Formatter),
		ports.String("secrets_provider", cfg.Secrets.Provider))

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	// Components stop in reverse order of registration
	shutdownManager := shutdown.NewManager(logger, 30*time.Second)
	shutdownManager.RegisterNoErr("database", application.Close)

	postgres.StartPoolMonitoring(ctx, application.Pool, time.Minute, logger)

	metricsServer := observability.StartMetricsServer(
		strconv.Itoa(cfg.Server.MetricsPort),
		observability.NewHealthChecker(application.Pool),
		logger)
	shutdownManager.Register("metrics", metricsServer.Shutdown)

	limiter := middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, logger)
	shutdownManager.RegisterNoErr("rate_limiter", limiter.Shutdown)

	mux := http.NewServeMux()
	batchrun.NewHandler(application.Service, logger).Register(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)
	handler = limiter.Middleware(handler)
	handler = internalmw.NewSecurityHeaders(cfg.Logger.Development).Middleware(handler)
	handler = internalmw.RequestLogger(logger)(handler)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Composing a large run renders every page before responding
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	shutdownManager.Register("http", server.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", ports.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = shutdownManager.Shutdown()
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("Shutting down servers...")
	if err := shutdownManager.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Servers stopped")
	return nil
}
