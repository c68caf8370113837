// Package adapters provides metric source connectors that fetch the
// sentinel's input signals from external systems and normalize them into
// one value per signal per interval.
//
// Each source implements the Source interface and is constructed through
// the New factory from a kind name plus a flat configuration map.
// Available sources:
//   - PrometheusSource: instant queries against the Prometheus HTTP API
//   - VictoriaMetricsSource: same protocol, VictoriaMetrics endpoint
//   - HTTPSource: generic JSON endpoint with gjson path extraction
//
// Sources are intentionally thin: they pull raw numbers and leave all
// detection and tuning logic to the layers above.
package adapters

import "context"

// Canonical signal names collected every monitoring interval. The first
// five feed the anomaly detector; p90, errors, rate, backpressure and
// the L2 hit ratio feed the adaptive tuner.
const (
	SignalLatencyP50   = "latency_p50"
	SignalLatencyP90   = "latency_p90"
	SignalErrorRatio   = "error_ratio"
	SignalReqRate      = "req_rate"
	SignalBackpressure = "backpressure"
	SignalCacheHitL2   = "cache_hit_l2"
)

// RequiredSignals returns every signal a pull-mode source must provide.
func RequiredSignals() []string {
	return []string{
		SignalLatencyP50,
		SignalLatencyP90,
		SignalErrorRatio,
		SignalReqRate,
		SignalBackpressure,
		SignalCacheHitL2,
	}
}

// Source fetches the current value of every configured signal. Collect
// respects the context for cancellation and deadlines; a failure of any
// single signal fails the whole collection, since a partial sample is
// not ingestible.
type Source interface {
	Name() string
	Collect(ctx context.Context) (map[string]float64, error)
}
