package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shutdown gracefully",
		Buckets: []float64{0.5, 1, 5, 10, 20, 30, 60},
	})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Total number of shutdown errors by component",
	}, []string{"component"})
)

// ShutdownFunc represents a function that shuts down a component
type ShutdownFunc func(context.Context) error

// Component represents a registered shutdown component
type Component struct {
	ShutdownFunc ShutdownFunc
	Name         string
}

// Manager shuts components down one at a time in reverse registration order,
// so the HTTP server stops taking runs before the database pool closes.
type Manager struct {
	logger     ports.Logger
	components []Component
	timeout    time.Duration
	mu         sync.Mutex
}

// NewManager creates a new shutdown manager
func NewManager(logger ports.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a shutdown function to be called during graceful shutdown
func (sm *Manager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.components = append(sm.components, Component{Name: name, ShutdownFunc: fn})
	sm.logger.Debug("Registered shutdown component",
		ports.String("component", name),
		ports.Int("registration_order", len(sm.components)))
}

// RegisterNoErr is a convenience method for shutdown functions that don't return errors
func (sm *Manager) RegisterNoErr(name string, fn func()) {
	sm.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Shutdown runs every component within the manager timeout and joins their errors.
// A component that overruns the deadline is abandoned and the rest still run.
func (sm *Manager) Shutdown() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	components := make([]Component, len(sm.components))
	copy(components, sm.components)
	sm.mu.Unlock()

	sm.logger.Info("Starting graceful shutdown",
		ports.Int("component_count", len(components)),
		ports.Duration("timeout", sm.timeout))

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		if err := sm.run(ctx, comp); err != nil {
			shutdownErrors.WithLabelValues(comp.Name).Inc()
			sm.logger.Error("Component shutdown failed",
				ports.String("component", comp.Name),
				ports.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", comp.Name, err))
		}
	}

	elapsed := time.Since(start)
	shutdownDuration.Observe(elapsed.Seconds())
	sm.logger.Info("Graceful shutdown completed",
		ports.Duration("elapsed", elapsed),
		ports.Int("error_count", len(errs)))

	return errors.Join(errs...)
}

func (sm *Manager) run(ctx context.Context, comp Component) error {
	done := make(chan error, 1)
	go func() { done <- comp.ShutdownFunc(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
