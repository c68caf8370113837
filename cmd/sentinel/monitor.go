// Monitor orchestration: collect → detect → tune → snapshot.
//
// Each monitored service gets one Monitor owning its own detector/tuner
// pair. The pair's state is mutex-serialized because samples can arrive
// from two directions: the poll loop (Run/Tick) and the push ingestion
// API (Step via the router).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OverLab-Group/olwsx-sentinel/cmd/sentinel/metrics"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/adapters"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/anomaly"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/storage"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/tuning"
)

// Monitor runs the control loop for one service.
type Monitor struct {
	service   string
	source    adapters.Source // nil for push-only services
	detector  *anomaly.Detector
	tuner     *tuning.Tuner
	store     storage.Store
	autoApply bool
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu sync.Mutex
}

// NewMonitor creates a Monitor. source may be nil for services fed only
// through the ingestion API; metrics may be nil in tests.
func NewMonitor(
	service string,
	source adapters.Source,
	detector *anomaly.Detector,
	tuner *tuning.Tuner,
	store storage.Store,
	autoApply bool,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		service:   service,
		source:    source,
		detector:  detector,
		tuner:     tuner,
		store:     store,
		autoApply: autoApply,
		logger:    logger,
		metrics:   m,
	}
}

// Service returns the monitored service's name.
func (m *Monitor) Service() string {
	return m.service
}

// Run executes the poll loop at the given interval until the context is
// canceled. Push-only monitors have no source and return immediately.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if m.source == nil {
		m.logger.Info("push-only service, no poll loop", "service", m.service)
		return nil
	}

	m.logger.Info("starting monitor loop", "service", m.service, "interval", interval, "source", m.source.Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := m.Tick(ctx); err != nil {
		m.logger.Error("initial monitor tick failed", "service", m.service, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor loop stopped", "service", m.service)
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("monitor tick failed", "service", m.service, "error", err)
			}
		}
	}
}

// Tick collects one round of signals and evaluates it. A sample the
// detector rejects is dropped and logged; it never corrupts state.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	values, err := m.source.Collect(ctx)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordDrop("collect_failed")
		}
		return fmt.Errorf("collect: %w", err)
	}
	if m.metrics != nil {
		m.metrics.RecordCollect(time.Since(start).Seconds())
	}

	sample, tm := fromSignals(time.Now().UTC(), values)
	if _, err := m.Step(ctx, sample, tm); err != nil {
		return err
	}
	return nil
}

// fromSignals assembles the detector and tuner inputs from one round of
// collected signal values.
func fromSignals(ts time.Time, values map[string]float64) (anomaly.Sample, tuning.Metrics) {
	sample := anomaly.Sample{
		TS:           ts,
		LatencyP50:   values[adapters.SignalLatencyP50],
		LatencyP90:   values[adapters.SignalLatencyP90],
		ErrorRatio:   values[adapters.SignalErrorRatio],
		ReqRate:      values[adapters.SignalReqRate],
		Backpressure: values[adapters.SignalBackpressure],
	}
	tm := tuning.Metrics{
		TS:           ts,
		LatencyP90:   values[adapters.SignalLatencyP90],
		ErrorRatio:   values[adapters.SignalErrorRatio],
		ReqRate:      values[adapters.SignalReqRate],
		Backpressure: values[adapters.SignalBackpressure],
		CacheHitL2:   values[adapters.SignalCacheHitL2],
	}
	return sample, tm
}

// Step evaluates one sample: ingest, recommend, optionally apply, and
// store the resulting snapshot. It is the single entry point for both
// the poll loop and the push ingestion API.
func (m *Monitor) Step(ctx context.Context, sample anomaly.Sample, tm tuning.Metrics) (storage.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	// Validate both inputs before touching any state, so a sample that
	// is ingestible but carries unusable tuner fields (or vice versa)
	// is rejected as a whole.
	if err := sample.Validate(); err != nil {
		m.drop(err)
		return storage.Snapshot{}, err
	}
	if err := tm.Validate(); err != nil {
		m.drop(err)
		return storage.Snapshot{}, err
	}

	alerts, err := m.detector.Ingest(sample)
	if err != nil {
		m.drop(err)
		return storage.Snapshot{}, err
	}

	rec, err := m.tuner.Recommend(tm, alerts)
	if err != nil {
		m.drop(err)
		return storage.Snapshot{}, err
	}

	applied := false
	if rec != nil && m.autoApply {
		m.tuner.Apply(rec)
		applied = true
	}

	snapshot := storage.Snapshot{
		Service:        m.service,
		GeneratedAt:    sample.TS,
		Sample:         sample,
		Regime:         m.detector.Regime(),
		Alerts:         alerts,
		Params:         m.tuner.Params(),
		Recommendation: rec,
		Applied:        applied,
	}

	if err := m.store.Put(ctx, snapshot); err != nil {
		return storage.Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}

	m.instrument(snapshot, time.Since(start))
	return snapshot, nil
}

func (m *Monitor) drop(err error) {
	m.logger.Warn("dropping sample", "service", m.service, "error", err)
	if m.metrics != nil {
		m.metrics.RecordDrop("invalid_input")
	}
}

func (m *Monitor) instrument(snapshot storage.Snapshot, elapsed time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordSample()
		m.metrics.RecordAlerts(snapshot.Alerts)
		if snapshot.Recommendation != nil {
			m.metrics.RecordRecommendation(snapshot.Recommendation.Severity)
		}
		m.metrics.SetRegime(snapshot.Regime)
		m.metrics.SetParams(snapshot.Params)
		m.metrics.SetState(m.detector.State())
		m.metrics.RecordStep(elapsed.Seconds())
	}

	if len(snapshot.Alerts) > 0 || snapshot.Recommendation != nil {
		attrs := []any{
			"service", m.service,
			"alerts", len(snapshot.Alerts),
			"regime", string(snapshot.Regime),
		}
		if snapshot.Recommendation != nil {
			attrs = append(attrs,
				"recommendation", snapshot.Recommendation.Reason,
				"severity", snapshot.Recommendation.Severity.String(),
				"applied", snapshot.Applied,
			)
		}
		m.logger.Info("interval evaluated", attrs...)
	} else {
		m.logger.Debug("interval evaluated",
			"service", m.service,
			"regime", string(snapshot.Regime),
			"step_ms", elapsed.Milliseconds(),
		)
	}
}
