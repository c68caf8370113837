// Package anomaly implements online anomaly detection over per-interval
// service metric samples.
//
// A Detector consumes one Sample per monitoring interval, maintains
// exponentially weighted statistics online, and emits explainable alerts
// for latency spikes, corroborated drift, and sustained operating-regime
// changes. No history window is retained: detector state is a fixed-size
// set of EWMA and variance estimates, so every ingestion runs in constant
// time regardless of how long the stream has been running.
//
// A Detector is not safe for concurrent use; callers that ingest from
// multiple goroutines must serialize access externally. Independent
// streams get independent Detector instances.
package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSample wraps every validation failure returned from Ingest.
// Boundary layers can errors.Is against it to map malformed input to a
// client error and drop the sample without touching detector state.
var ErrInvalidSample = errors.New("invalid sample")

// Sample is one per-interval observation of the monitored service.
// Latencies are in milliseconds, ratios are normalized to [0,1] and the
// request rate is in requests per second.
type Sample struct {
	TS           time.Time `json:"ts"`
	LatencyP50   float64   `json:"latency_ms_p50"`
	LatencyP90   float64   `json:"latency_ms_p90"`
	ErrorRatio   float64   `json:"error_ratio"`
	ReqRate      float64   `json:"req_rate"`
	Backpressure float64   `json:"backpressure"`
}

// Validate checks that every field is finite and within its declared
// range. The EWMA and z-score arithmetic is not safe over NaN or Inf, so
// samples must pass validation before they reach the statistics.
func (p Sample) Validate() error {
	if p.TS.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidSample)
	}

	fields := []struct {
		name  string
		value float64
	}{
		{"latency_ms_p50", p.LatencyP50},
		{"latency_ms_p90", p.LatencyP90},
		{"error_ratio", p.ErrorRatio},
		{"req_rate", p.ReqRate},
		{"backpressure", p.Backpressure},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidSample, f.name)
		}
	}

	if p.LatencyP50 < 0 || p.LatencyP90 < 0 {
		return fmt.Errorf("%w: latency cannot be negative", ErrInvalidSample)
	}
	if p.ReqRate < 0 {
		return fmt.Errorf("%w: req_rate cannot be negative", ErrInvalidSample)
	}
	if p.ErrorRatio < 0 || p.ErrorRatio > 1 {
		return fmt.Errorf("%w: error_ratio must be in [0,1]", ErrInvalidSample)
	}
	if p.Backpressure < 0 || p.Backpressure > 1 {
		return fmt.Errorf("%w: backpressure must be in [0,1]", ErrInvalidSample)
	}

	return nil
}

// Kind identifies which detection rule produced an alert.
type Kind string

const (
	KindSpike  Kind = "spike"
	KindDrift  Kind = "drift"
	KindRegime Kind = "regime"
)

// Severity is an ordered alert/recommendation severity level.
// The ordering matters: severity may only ever be raised, never lowered,
// when multiple rules contribute to a single decision.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityModerate
	SeverityHigh
)

// Escalate returns the higher of s and to. It is the only sanctioned way
// to combine severities from multiple rules, which keeps the result
// independent of rule evaluation order.
func (s Severity) Escalate(to Severity) Severity {
	if to > s {
		return to
	}
	return s
}

func (s Severity) String() string {
	switch s {
	case SeverityModerate:
		return "moderate"
	case SeverityHigh:
		return "high"
	default:
		return "low"
	}
}

// MarshalJSON encodes the severity as its string label.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string label.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	switch label {
	case "low":
		*s = SeverityLow
	case "moderate":
		*s = SeverityModerate
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown severity %q", label)
	}
	return nil
}

// Regime is the coarse operating mode of the monitored service, derived
// from smoothed request rate and p90 latency. The zero value means the
// detector has not confirmed a regime yet.
type Regime string

const (
	RegimeLow    Regime = "low"
	RegimeNormal Regime = "normal"
	RegimeHigh   Regime = "high"
)

// Alert is an immutable, explainable detection result. Metrics carries
// the named values that support the reason string so downstream sinks
// can render or assert on them without parsing the reason.
type Alert struct {
	TS       time.Time          `json:"ts"`
	Kind     Kind               `json:"kind"`
	Severity Severity           `json:"severity"`
	Reason   string             `json:"reason"`
	Metrics  map[string]float64 `json:"metrics"`
}
