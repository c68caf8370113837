// Package tuning derives bounded, guardrailed configuration
// recommendations (per-IP rate limit, queue depth, cache TTLs) from live
// service metrics.
//
// A Tuner never enforces anything: Recommend returns a value object
// describing the proposed change and Apply only updates the tuner's
// local mirror of desired state. Pushing the change to live
// infrastructure is the caller's responsibility. Guardrails are a fixed
// step size and hard [min, max] bound per parameter, plus a cooldown
// between applied recommendations that prevents oscillation.
//
// A Tuner is not safe for concurrent use; callers must serialize
// Recommend/Apply externally. Independent streams get independent Tuner
// instances.
package tuning

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OverLab-Group/olwsx-sentinel/pkg/anomaly"
)

// ErrInvalidMetrics wraps every validation failure returned from
// Recommend, mirroring anomaly.ErrInvalidSample at the tuner boundary.
var ErrInvalidMetrics = errors.New("invalid metrics")

// Managed parameter names as they appear in recommendation change maps
// and on the wire.
const (
	ParamRatePerIP  = "rate_per_ip"
	ParamQueueDepth = "queue_depth"
	ParamTTLStatic  = "ttl_static_s"
	ParamTTLDynamic = "ttl_dynamic_s"
)

// Metrics is the tuner's per-interval input.
type Metrics struct {
	TS           time.Time `json:"ts"`
	LatencyP90   float64   `json:"lat_p90"`
	ErrorRatio   float64   `json:"err_ratio"`
	ReqRate      float64   `json:"req_rate"`
	Backpressure float64   `json:"backpressure"`
	CacheHitL2   float64   `json:"cache_hit_l2"`
}

// Validate checks that every field is finite and within its declared range.
func (m Metrics) Validate() error {
	if m.TS.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidMetrics)
	}

	fields := []struct {
		name  string
		value float64
	}{
		{"lat_p90", m.LatencyP90},
		{"err_ratio", m.ErrorRatio},
		{"req_rate", m.ReqRate},
		{"backpressure", m.Backpressure},
		{"cache_hit_l2", m.CacheHitL2},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidMetrics, f.name)
		}
	}

	if m.LatencyP90 < 0 {
		return fmt.Errorf("%w: lat_p90 cannot be negative", ErrInvalidMetrics)
	}
	if m.ReqRate < 0 {
		return fmt.Errorf("%w: req_rate cannot be negative", ErrInvalidMetrics)
	}
	if m.ErrorRatio < 0 || m.ErrorRatio > 1 {
		return fmt.Errorf("%w: err_ratio must be in [0,1]", ErrInvalidMetrics)
	}
	if m.Backpressure < 0 || m.Backpressure > 1 {
		return fmt.Errorf("%w: backpressure must be in [0,1]", ErrInvalidMetrics)
	}
	if m.CacheHitL2 < 0 || m.CacheHitL2 > 1 {
		return fmt.Errorf("%w: cache_hit_l2 must be in [0,1]", ErrInvalidMetrics)
	}

	return nil
}

// Limits holds the per-parameter bounds, step sizes and the cooldown.
// Every persisted parameter always stays within its [min, max] bound.
type Limits struct {
	MinRatePerIP int
	MaxRatePerIP int

	MinQueueDepth int
	MaxQueueDepth int

	MinTTLSec int
	MaxTTLSec int

	RateStep   int
	QueueStep  int
	TTLStepSec int

	// Cooldown is the minimum spacing between applied recommendations,
	// independent of any detector-side hysteresis.
	Cooldown time.Duration
}

// DefaultLimits returns the reference guardrails.
func DefaultLimits() Limits {
	return Limits{
		MinRatePerIP:  10,
		MaxRatePerIP:  120,
		MinQueueDepth: 100,
		MaxQueueDepth: 1000,
		MinTTLSec:     5,
		MaxTTLSec:     3600,
		RateStep:      10,
		QueueStep:     50,
		TTLStepSec:    30,
		Cooldown:      20 * time.Second,
	}
}

// Params is the current operating point mirrored by the tuner.
type Params struct {
	RatePerIP     int `json:"rate_per_ip"`
	QueueDepth    int `json:"queue_depth"`
	TTLStaticSec  int `json:"ttl_static_s"`
	TTLDynamicSec int `json:"ttl_dynamic_s"`
}

// DefaultParams returns the reference initial operating point.
func DefaultParams() Params {
	return Params{
		RatePerIP:     60,
		QueueDepth:    500,
		TTLStaticSec:  120,
		TTLDynamicSec: 60,
	}
}

// Recommendation is a proposed, bounded parameter change. It becomes
// authoritative only once the caller invokes Apply with it.
type Recommendation struct {
	TS         time.Time        `json:"ts"`
	Changes    map[string]int   `json:"changes"`
	TTLChanges map[string]int   `json:"ttl_changes"`
	Reason     string           `json:"reason"`
	Severity   anomaly.Severity `json:"severity"`
	Rollout    []int            `json:"rollout"`
}

// rolloutPlan returns the fixed canary stage percentages. A fresh slice
// per recommendation keeps the value object immutable in practice.
func rolloutPlan() []int {
	return []int{10, 25, 50, 100}
}

// Tuner owns the desired operating parameters for one service and turns
// metrics into at most one bounded recommendation per call.
type Tuner struct {
	limits    Limits
	params    Params
	lastApply time.Time
}

// New creates a Tuner with the given guardrails and initial operating
// point. The initial parameters are clamped into bounds so the state
// invariant holds from the first instant.
func New(limits Limits, initial Params) *Tuner {
	initial.RatePerIP = clamp(initial.RatePerIP, limits.MinRatePerIP, limits.MaxRatePerIP)
	initial.QueueDepth = clamp(initial.QueueDepth, limits.MinQueueDepth, limits.MaxQueueDepth)
	initial.TTLStaticSec = clamp(initial.TTLStaticSec, limits.MinTTLSec, limits.MaxTTLSec)
	initial.TTLDynamicSec = clamp(initial.TTLDynamicSec, limits.MinTTLSec, limits.MaxTTLSec)

	return &Tuner{limits: limits, params: initial}
}

// Params returns a copy of the current operating point.
func (t *Tuner) Params() Params {
	return t.params
}

// Recommend evaluates the tuning rules against one metrics record and
// returns a bounded recommendation, or nil when the cooldown is active
// or no rule fired. It never mutates tuner state.
//
// The alerts produced for the same interval are accepted for context;
// the current rules key off the raw metrics alone.
func (t *Tuner) Recommend(m Metrics, alerts []anomaly.Alert) (*Recommendation, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}

	if !t.lastApply.IsZero() && m.TS.Sub(t.lastApply) < t.limits.Cooldown {
		return nil, nil
	}

	changes := map[string]int{}
	ttlChanges := map[string]int{}
	severity := anomaly.SeverityLow
	var reasons []string

	// Rate limit: tighten under backpressure or errors, relax only when
	// the cache is healthy and latency is low.
	if m.Backpressure >= 0.8 || m.ErrorRatio >= 0.05 {
		changes[ParamRatePerIP] = max(t.limits.MinRatePerIP, t.params.RatePerIP-t.limits.RateStep)
		severity = severity.Escalate(anomaly.SeverityModerate)
		reasons = append(reasons, "reduce rate_per_ip due to backpressure/err")
	} else if m.CacheHitL2 >= 0.7 && m.LatencyP90 < 120 && m.ErrorRatio < 0.02 {
		changes[ParamRatePerIP] = min(t.limits.MaxRatePerIP, t.params.RatePerIP+t.limits.RateStep)
		reasons = append(reasons, "increase rate_per_ip due to healthy cache & latency")
	}

	// Queue depth: severe backpressure always escalates to high.
	if m.Backpressure >= 0.9 {
		changes[ParamQueueDepth] = max(t.limits.MinQueueDepth, t.params.QueueDepth-t.limits.QueueStep)
		severity = severity.Escalate(anomaly.SeverityHigh)
		reasons = append(reasons, "reduce queue_depth due to severe backpressure")
	} else if m.ErrorRatio < 0.01 && m.LatencyP90 < 100 {
		changes[ParamQueueDepth] = min(t.limits.MaxQueueDepth, t.params.QueueDepth+t.limits.QueueStep)
		reasons = append(reasons, "increase queue_depth under low error/latency")
	}

	// TTLs: an underperforming cache shortens the dynamic TTL to avoid
	// stale content; a strong cache lengthens the static TTL. The two
	// branches deliberately touch different parameters.
	if m.CacheHitL2 < 0.3 && m.LatencyP90 > 200 {
		ttlChanges[ParamTTLDynamic] = max(t.limits.MinTTLSec, t.params.TTLDynamicSec-t.limits.TTLStepSec)
		severity = severity.Escalate(anomaly.SeverityModerate)
		reasons = append(reasons, "shorten ttl_dynamic due to low L2 hit & high latency")
	} else if m.CacheHitL2 > 0.8 && m.ErrorRatio < 0.02 {
		ttlChanges[ParamTTLStatic] = min(t.limits.MaxTTLSec, t.params.TTLStaticSec+t.limits.TTLStepSec)
		reasons = append(reasons, "extend ttl_static due to strong L2 hit & low error")
	}

	if len(changes) == 0 && len(ttlChanges) == 0 {
		return nil, nil
	}

	return &Recommendation{
		TS:         m.TS,
		Changes:    changes,
		TTLChanges: ttlChanges,
		Reason:     strings.Join(reasons, "; "),
		Severity:   severity,
		Rollout:    rolloutPlan(),
	}, nil
}

// Apply clamps each proposed value into its bound, overwrites the stored
// operating point, and advances the cooldown anchor to the
// recommendation's timestamp. The anchor always advances, even when a
// proposed value equals the current one.
func (t *Tuner) Apply(rec *Recommendation) {
	if rec == nil {
		return
	}

	for param, value := range rec.Changes {
		switch param {
		case ParamRatePerIP:
			t.params.RatePerIP = clamp(value, t.limits.MinRatePerIP, t.limits.MaxRatePerIP)
		case ParamQueueDepth:
			t.params.QueueDepth = clamp(value, t.limits.MinQueueDepth, t.limits.MaxQueueDepth)
		}
	}
	for param, value := range rec.TTLChanges {
		switch param {
		case ParamTTLStatic:
			t.params.TTLStaticSec = clamp(value, t.limits.MinTTLSec, t.limits.MaxTTLSec)
		case ParamTTLDynamic:
			t.params.TTLDynamicSec = clamp(value, t.limits.MinTTLSec, t.limits.MaxTTLSec)
		}
	}

	t.lastApply = rec.TS
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
