// Package main is the entry point for the edge connector service. It loads
// the connector definitions, registers them with the manager, and serves the
// control-plane HTTP API alongside health and metrics endpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sensormine/edge-connectors/internal/api"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sensormine/edge-connectors/internal/health"
	"github.com/sensormine/edge-connectors/internal/metrics"
	"github.com/sensormine/edge-connectors/pkg/logging"
)

const (
	serviceName    = "edge-connectors"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewWithConfig(serviceName, serviceVersion, logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	logger.Info().Str("env", cfg.Environment).Msg("Starting edge connector service")

	metricsRegistry := metrics.NewRegistry()

	// Build the connector plane: factory, manager, and the configured
	// connector instances.
	factory := connector.NewFactory(logger, metricsRegistry, cfg.Manager.EventBuffer)
	manager := connector.NewManager(factory, connector.ManagerConfig{
		AggregateBuffer: cfg.Manager.AggregateBuffer,
		BulkTimeout:     cfg.Manager.BulkTimeout,
	}, logger, metricsRegistry)

	connectorCfgs, err := config.LoadConnectors(cfg.ConnectorsConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ConnectorsConfigPath).Msg("Failed to load connector definitions")
	}
	logger.Info().Int("count", len(connectorCfgs)).Msg("Loaded connector definitions")

	for _, cc := range connectorCfgs {
		if _, err := manager.Register(cc); err != nil {
			logger.Error().Err(err).Str("connector_id", cc.ID).Msg("Failed to register connector")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drain the aggregate stream. Downstream delivery (platform ingest) is
	// represented by a structured log per batch at debug level.
	go func() {
		for batch := range manager.Events() {
			logger.Debug().
				Str("source_id", batch.SourceID).
				Int("points", len(batch.Points)).
				Msg("Batch received")
		}
	}()

	results := manager.StartAll(ctx)
	started, skipped, failed := 0, 0, 0
	for _, res := range results {
		switch {
		case res.Skipped:
			skipped++
		case res.Err != nil:
			failed++
		default:
			started++
		}
	}
	logger.Info().
		Int("started", started).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("Connector startup complete")

	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	healthChecker.AddCheck("connectors", health.CheckerFunc(func(ctx context.Context) error {
		var down int
		regs := manager.List()
		for _, reg := range regs {
			if reg.Config.Enabled && reg.Connector.Status() == domain.StatusError {
				down++
			}
		}
		if down > 0 && down == len(regs) {
			return fmt.Errorf("all %d enabled connectors are in error state", down)
		}
		return nil
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LivenessHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry.Prometheus(), promhttp.HandlerOpts{}))

	apiServer := api.NewServer(manager, logger)
	apiServer.Routes(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Manager.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// Close stops polling, disconnects, and disposes every connector.
	if err := manager.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing connector manager")
	}

	logger.Info().Msg("Shutdown complete")
}
