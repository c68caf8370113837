// Package metrics provides Prometheus instrumentation for the sentinel.
//
// It exposes operational metrics about the monitoring loop: collection
// and evaluation timings, alert and recommendation volumes, the
// detector's confirmed regime and the tuner's current operating point.
// Everything is served on /metrics for scraping.
//
// Metrics exposed:
//   - sentinel_collect_seconds: Histogram of source collection duration
//   - sentinel_step_seconds: Histogram of detect+tune evaluation duration
//   - sentinel_samples_total: Counter of ingested samples
//   - sentinel_samples_dropped_total: Counter of rejected samples by reason
//   - sentinel_alerts_total: Counter of alerts by kind and severity
//   - sentinel_recommendations_total: Counter of recommendations by severity
//   - sentinel_regime: Per-regime gauge, 1 for the confirmed regime
//   - sentinel_param: Gauge of desired operating parameters by name
//   - sentinel_ewma: Gauge of the detector's smoothed signals
//
// All metrics carry the service label for multi-service deployments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/OverLab-Group/olwsx-sentinel/pkg/anomaly"
	"github.com/OverLab-Group/olwsx-sentinel/pkg/tuning"
)

// Metrics holds all Prometheus metrics for one monitored service.
type Metrics struct {
	CollectSeconds       prometheus.Histogram
	StepSeconds          prometheus.Histogram
	SamplesTotal         prometheus.Counter
	SamplesDroppedTotal  *prometheus.CounterVec
	AlertsTotal          *prometheus.CounterVec
	RecommendationsTotal *prometheus.CounterVec
	Regime               *prometheus.GaugeVec
	Param                *prometheus.GaugeVec
	EWMA                 *prometheus.GaugeVec
}

// New creates and registers all metrics for a service.
func New(service string) *Metrics {
	constLabels := prometheus.Labels{"service": service}

	return &Metrics{
		CollectSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "sentinel_collect_seconds",
			Help:        "Time spent collecting signals from the metric source",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),

		StepSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "sentinel_step_seconds",
			Help:        "Time spent evaluating one sample (detect + tune + store)",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),

		SamplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "sentinel_samples_total",
			Help:        "Total number of samples ingested",
			ConstLabels: constLabels,
		}),

		SamplesDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "sentinel_samples_dropped_total",
			Help:        "Total number of samples dropped before ingestion",
			ConstLabels: constLabels,
		}, []string{"reason"}),

		AlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "sentinel_alerts_total",
			Help:        "Total number of alerts emitted by kind and severity",
			ConstLabels: constLabels,
		}, []string{"kind", "severity"}),

		RecommendationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "sentinel_recommendations_total",
			Help:        "Total number of tuning recommendations by severity",
			ConstLabels: constLabels,
		}, []string{"severity"}),

		Regime: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "sentinel_regime",
			Help:        "Confirmed operating regime (1 for the active regime)",
			ConstLabels: constLabels,
		}, []string{"regime"}),

		Param: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "sentinel_param",
			Help:        "Desired operating parameter values",
			ConstLabels: constLabels,
		}, []string{"param"}),

		EWMA: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "sentinel_ewma",
			Help:        "Detector EWMA state per signal",
			ConstLabels: constLabels,
		}, []string{"signal"}),
	}
}

// RecordCollect records the time spent collecting signals.
func (m *Metrics) RecordCollect(seconds float64) {
	m.CollectSeconds.Observe(seconds)
}

// RecordStep records the time spent evaluating one sample.
func (m *Metrics) RecordStep(seconds float64) {
	m.StepSeconds.Observe(seconds)
}

// RecordSample counts one ingested sample.
func (m *Metrics) RecordSample() {
	m.SamplesTotal.Inc()
}

// RecordDrop counts one dropped sample.
func (m *Metrics) RecordDrop(reason string) {
	m.SamplesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordAlerts counts the alerts from one ingestion.
func (m *Metrics) RecordAlerts(alerts []anomaly.Alert) {
	for _, a := range alerts {
		m.AlertsTotal.WithLabelValues(string(a.Kind), a.Severity.String()).Inc()
	}
}

// RecordRecommendation counts one emitted recommendation.
func (m *Metrics) RecordRecommendation(severity anomaly.Severity) {
	m.RecommendationsTotal.WithLabelValues(severity.String()).Inc()
}

// SetRegime marks the confirmed regime.
func (m *Metrics) SetRegime(regime anomaly.Regime) {
	for _, r := range []anomaly.Regime{anomaly.RegimeLow, anomaly.RegimeNormal, anomaly.RegimeHigh} {
		v := 0.0
		if r == regime {
			v = 1.0
		}
		m.Regime.WithLabelValues(string(r)).Set(v)
	}
}

// SetParams exports the tuner's current operating point.
func (m *Metrics) SetParams(p tuning.Params) {
	m.Param.WithLabelValues(tuning.ParamRatePerIP).Set(float64(p.RatePerIP))
	m.Param.WithLabelValues(tuning.ParamQueueDepth).Set(float64(p.QueueDepth))
	m.Param.WithLabelValues(tuning.ParamTTLStatic).Set(float64(p.TTLStaticSec))
	m.Param.WithLabelValues(tuning.ParamTTLDynamic).Set(float64(p.TTLDynamicSec))
}

// SetState exports the detector's smoothed signals.
func (m *Metrics) SetState(s anomaly.State) {
	m.EWMA.WithLabelValues("lat_p50").Set(s.EWMALatencyP50)
	m.EWMA.WithLabelValues("lat_p90").Set(s.EWMALatencyP90)
	m.EWMA.WithLabelValues("err").Set(s.EWMAErrorRatio)
	m.EWMA.WithLabelValues("rate").Set(s.EWMAReqRate)
}
