// Command sentinel implements the OLWSX edge monitoring and tuning loop.
//
// The sentinel runs a continuous control loop per monitored service that:
//  1. Collects runtime signals (latency, error ratio, request rate,
//     backpressure, cache hit ratio) from a metric source
//  2. Detects anomalies using smoothed baselines (spikes, drift, regime
//     transitions)
//  3. Derives parameter tuning recommendations (rate limits, queue depth,
//     cache TTLs) from the same signals
//  4. Stores decision snapshots for external consumers
//  5. Exposes snapshots via HTTP API at /decision/current
//
// The sentinel serves an HTTP API on port 8082 (configurable) providing:
//   - GET /decision/current?service=<name> - Retrieve latest decision snapshot
//   - POST /ingest?service=<name> - Push one observation for evaluation
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	sentinel \
//	  -service=edge-gw \
//	  -adapter=prometheus \
//	  -interval=10s
//
// Environment variables:
//
//	SERVICE       - Service name (required in single-service mode)
//	ADAPTER       - Adapter kind: prometheus, victoriametrics, http, push
//	ADAPTER_*     - Adapter configuration (e.g. ADAPTER_URL)
//	SIGNAL_*      - Per-signal queries/paths (e.g. SIGNAL_REQ_RATE)
//	INTERVAL      - Monitoring loop interval (default: 10s)
//	AUTO_APPLY    - Apply recommendations locally (default: true)
//	CONFIG_FILE   - YAML service file for multi-service mode
//	STORAGE       - Snapshot storage backend: memory or redis
//	REDIS_ADDR    - Redis server address
//	LOG_LEVEL     - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT    - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OverLab-Group/olwsx-sentinel/cmd/sentinel/config"
	"github.com/OverLab-Group/olwsx-sentinel/cmd/sentinel/logger"
	"github.com/OverLab-Group/olwsx-sentinel/cmd/sentinel/metrics"
	"github.com/OverLab-Group/olwsx-sentinel/cmd/sentinel/router"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/adapters"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/anomaly"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/httpx"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/storage"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/tuning"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting olwsx sentinel",
		"version", version,
		"storage", cfg.Storage,
	)

	services, err := config.LoadServices(cfg)
	if err != nil {
		logger.Error("failed to load service configuration", "error", err)
		os.Exit(1)
	}

	store := newStore(cfg, logger)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	monitors := make([]*Monitor, 0, len(services))
	ingestors := make(map[string]router.Ingestor, len(services))
	maxInterval := time.Duration(0)

	for _, svc := range services {
		var source adapters.Source
		if svc.Adapter != config.AdapterPush {
			source, err = adapters.New(svc.Adapter, svc.AdapterConfig, svc.Signals)
			if err != nil {
				logger.Error("failed to build adapter", "service", svc.Name, "adapter", svc.Adapter, "error", err)
				os.Exit(1)
			}
		}

		m := NewMonitor(
			svc.Name,
			source,
			anomaly.New(anomaly.DefaultConfig()),
			tuning.New(tuning.DefaultLimits(), tuning.DefaultParams()),
			store,
			svc.Apply(),
			logger,
			metrics.New(svc.Name),
		)
		monitors = append(monitors, m)
		ingestors[svc.Name] = m

		if d := time.Duration(svc.Interval); d > maxInterval {
			maxInterval = d
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i, m := range monitors {
		interval := time.Duration(services[i].Interval)
		go func(m *Monitor, interval time.Duration) {
			if err := m.Run(ctx, interval); err != nil && err != context.Canceled {
				logger.Error("monitor loop failed", "service", m.Service(), "error", err)
			}
		}(m, interval)
	}

	staleAfter := 2 * maxInterval // snapshot is stale if older than 2x the slowest loop
	if staleAfter == 0 {
		staleAfter = 2 * time.Minute
	}
	mux := router.SetupRoutes(store, ingestors, staleAfter, logger)
	handler := httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newStore builds the snapshot store from configuration. Redis failures
// at startup are fatal; a sentinel without a reachable store cannot
// publish decisions.
func newStore(cfg *config.Config, logger *slog.Logger) storage.Store {
	switch cfg.Storage {
	case "redis":
		store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("using redis snapshot store", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
		return store
	default:
		logger.Info("using in-memory snapshot store")
		return storage.NewMemoryStore()
	}
}
