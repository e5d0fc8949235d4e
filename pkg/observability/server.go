package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsMux serves Prometheus metrics, health and readiness
func NewMetricsMux(healthChecker *HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())

	if healthChecker != nil {
		mux.HandleFunc("GET /health", healthChecker.HealthHandler())
	}

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return mux
}

// StartMetricsServer starts an HTTP server for Prometheus metrics and health checks
func StartMetricsServer(port string, healthChecker *HealthChecker, logger ports.Logger) *http.Server {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      NewMetricsMux(healthChecker),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", ports.Err(err))
		}
	}()

	return server
}
