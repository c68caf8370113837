// Package router configures HTTP routes for the sentinel's HTTP API.
//
// The sentinel exposes an HTTP server on port 8082 (configurable) that
// provides decision snapshot retrieval, sample ingestion for push-mode
// services, health checks, and Prometheus metrics.
//
// Routes configured:
//   - GET /decision/current?service=<name> - Retrieve latest decision snapshot
//   - POST /ingest?service=<name> - Push one observation for evaluation
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//
// The /decision/current endpoint returns snapshots in JSON format,
// including the evaluated sample, alerts, the tuner's operating point
// and the recommendation, if any. Snapshots older than the stale
// threshold include an X-Sentinel-Stale header.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OverLab-Group/olwsx-sentinel/pkg/anomaly"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/httpx"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/storage"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/tuning"
)

var serviceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// maxIngestBytes caps the /ingest request body size.
const maxIngestBytes = 1 << 20

// Ingestor evaluates one pushed observation for a service. It is
// implemented by the per-service monitor.
type Ingestor interface {
	Step(ctx context.Context, sample anomaly.Sample, m tuning.Metrics) (storage.Snapshot, error)
}

// ingestRequest is the /ingest wire format: one combined observation
// carrying both the detector's and the tuner's input fields.
type ingestRequest struct {
	TS           time.Time `json:"ts"`
	LatencyP50   float64   `json:"latency_ms_p50"`
	LatencyP90   float64   `json:"latency_ms_p90"`
	ErrorRatio   float64   `json:"error_ratio"`
	ReqRate      float64   `json:"req_rate"`
	Backpressure float64   `json:"backpressure"`
	CacheHitL2   float64   `json:"cache_hit_l2"`
}

// SetupRoutes configures HTTP endpoints for the sentinel.
func SetupRoutes(store storage.Store, ingestors map[string]Ingestor, staleAfter time.Duration, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.Handle("/healthz", httpx.HealthHandler())

	// Decision snapshot endpoint
	mux.HandleFunc("/decision/current", handleGetSnapshot(store, staleAfter, logger))

	// Push ingestion endpoint
	mux.HandleFunc("/ingest", handleIngest(ingestors, logger))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleGetSnapshot returns a handler for GET /decision/current?service=<name>.
func handleGetSnapshot(store storage.Store, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")
		if service == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "service parameter required")
			return
		}

		if !serviceNameRegex.MatchString(service) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service name format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, service)
		if err != nil {
			logger.Error("failed to get snapshot", "service", service, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for service %q", service))
			return
		}

		if time.Since(snapshot.GeneratedAt) > staleAfter {
			w.Header().Set("X-Sentinel-Stale", "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleIngest returns a handler for POST /ingest?service=<name>.
func handleIngest(ingestors map[string]Ingestor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		service := r.URL.Query().Get("service")
		if service == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "service parameter required")
			return
		}

		if !serviceNameRegex.MatchString(service) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service name format")
			return
		}

		ingestor, ok := ingestors[service]
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("unknown service %q", service))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes))
		if err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		var req ingestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}

		ts := req.TS
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		sample := anomaly.Sample{
			TS:           ts,
			LatencyP50:   req.LatencyP50,
			LatencyP90:   req.LatencyP90,
			ErrorRatio:   req.ErrorRatio,
			ReqRate:      req.ReqRate,
			Backpressure: req.Backpressure,
		}
		metrics := tuning.Metrics{
			TS:           ts,
			LatencyP90:   req.LatencyP90,
			ErrorRatio:   req.ErrorRatio,
			ReqRate:      req.ReqRate,
			Backpressure: req.Backpressure,
			CacheHitL2:   req.CacheHitL2,
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		snapshot, err := ingestor.Step(ctx, sample, metrics)
		if err != nil {
			if errors.Is(err, anomaly.ErrInvalidSample) || errors.Is(err, tuning.ErrInvalidMetrics) {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Error("failed to evaluate pushed sample", "service", service, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
