package anomaly

import (
	"fmt"
	"math"
	"time"
)

// varianceFloor prevents the z-score division from blowing up while the
// variance estimate is still near zero, e.g. right after cold start.
const varianceFloor = 1e-6

// Config holds the detector's decay factors and thresholds. All values
// are fixed at construction time; DefaultConfig returns the reference
// values used for conformance.
type Config struct {
	// EWMA decay factors per signal family.
	LatencyDecay float64
	ErrorDecay   float64
	RateDecay    float64

	// SpikeZ is the z-score at which a spike alert fires; SpikeZHigh is
	// the z-score at which its severity becomes high.
	SpikeZ     float64
	SpikeZHigh float64

	// BackpressureSpike fires a spike alert regardless of z-score;
	// BackpressureHigh raises the spike severity to high.
	BackpressureSpike float64
	BackpressureHigh  float64

	// DriftFraction is the relative p90 shift that counts as drift.
	// Drift alone is not alertable: the smoothed error ratio must also
	// be at or above DriftErrorFloor, which suppresses benign slow trends.
	DriftFraction   float64
	DriftErrorFloor float64

	// Regime classification thresholds over smoothed rate and p90.
	LowRate     float64
	LowLatency  float64
	HighRate    float64
	HighLatency float64

	// RegimeMinDuration is how long a new regime label must persist
	// before it is confirmed. Hysteresis is the minimum spacing between
	// two regime alerts.
	RegimeMinDuration time.Duration
	Hysteresis        time.Duration
}

// DefaultConfig returns the reference detector configuration.
func DefaultConfig() Config {
	return Config{
		LatencyDecay:      0.2,
		ErrorDecay:        0.2,
		RateDecay:         0.15,
		SpikeZ:            3.0,
		SpikeZHigh:        4.0,
		BackpressureSpike: 0.8,
		BackpressureHigh:  0.9,
		DriftFraction:     0.25,
		DriftErrorFloor:   0.05,
		LowRate:           50,
		LowLatency:        50,
		HighRate:          300,
		HighLatency:       200,
		RegimeMinDuration: 30 * time.Second,
		Hysteresis:        15 * time.Second,
	}
}

// State is a read-only snapshot of the detector's running statistics.
type State struct {
	EWMALatencyP50 float64 `json:"ewma_lat_p50"`
	EWMALatencyP90 float64 `json:"ewma_lat_p90"`
	EWMAErrorRatio float64 `json:"ewma_err"`
	EWMAReqRate    float64 `json:"ewma_rate"`
	VarLatencyP50  float64 `json:"var_lat_p50"`
	VarLatencyP90  float64 `json:"var_lat_p90"`
	Regime         Regime  `json:"regime,omitempty"`
}

// Detector maintains online statistics for one metric stream and turns
// incoming samples into zero or more alerts per call.
type Detector struct {
	cfg Config

	ewmaP50  float64
	ewmaP90  float64
	ewmaErr  float64
	ewmaRate float64
	varP50   float64
	varP90   float64

	regime          Regime    // last confirmed regime, "" before the first confirmation
	pendingSince    time.Time // zero when no regime change is pending
	lastRegimeAlert time.Time
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// State returns a snapshot of the current running statistics.
func (d *Detector) State() State {
	return State{
		EWMALatencyP50: d.ewmaP50,
		EWMALatencyP90: d.ewmaP90,
		EWMAErrorRatio: d.ewmaErr,
		EWMAReqRate:    d.ewmaRate,
		VarLatencyP50:  d.varP50,
		VarLatencyP90:  d.varP90,
		Regime:         d.regime,
	}
}

// Regime returns the last confirmed regime, or "" before the first
// confirmation.
func (d *Detector) Regime() Regime {
	return d.regime
}

// Ingest consumes one sample, updates the running statistics and returns
// the alerts raised by this sample, ordered spike, drift, regime. An
// invalid sample is rejected with an error wrapping ErrInvalidSample and
// leaves all state untouched.
func (d *Detector) Ingest(p Sample) ([]Alert, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	d.ewmaP50 = ewma(p.LatencyP50, d.ewmaP50, d.cfg.LatencyDecay)
	d.ewmaP90 = ewma(p.LatencyP90, d.ewmaP90, d.cfg.LatencyDecay)
	d.ewmaErr = ewma(p.ErrorRatio, d.ewmaErr, d.cfg.ErrorDecay)
	d.ewmaRate = ewma(p.ReqRate, d.ewmaRate, d.cfg.RateDecay)

	// Variance is updated against the already-updated mean. That makes
	// it a biased approximation of a rolling variance, accepted as a
	// determinism/simplicity trade-off.
	d.varP50 = expVariance(p.LatencyP50, d.ewmaP50, d.varP50, d.cfg.LatencyDecay)
	d.varP90 = expVariance(p.LatencyP90, d.ewmaP90, d.varP90, d.cfg.LatencyDecay)

	var alerts []Alert

	if a, ok := d.checkSpike(p); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.checkDrift(p); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.checkRegime(p); ok {
		alerts = append(alerts, a)
	}

	return alerts, nil
}

// ewma folds x into the running mean m. A zero mean means cold start and
// bootstraps the estimate to the raw value, so the first point never
// looks like an artificial spike.
func ewma(x, m, decay float64) float64 {
	if m == 0 {
		return x
	}
	return decay*x + (1-decay)*m
}

func expVariance(x, mean, v, decay float64) float64 {
	diff := x - mean
	return decay*(diff*diff) + (1-decay)*v
}

func zscore(x, mean, v float64) float64 {
	return (x - mean) / math.Sqrt(math.Max(v, varianceFloor))
}

func (d *Detector) checkSpike(p Sample) (Alert, bool) {
	z50 := zscore(p.LatencyP50, d.ewmaP50, d.varP50)
	z90 := zscore(p.LatencyP90, d.ewmaP90, d.varP90)
	z := math.Max(z50, z90)

	if z < d.cfg.SpikeZ && p.Backpressure < d.cfg.BackpressureSpike {
		return Alert{}, false
	}

	severity := SeverityModerate
	if z >= d.cfg.SpikeZHigh || p.Backpressure >= d.cfg.BackpressureHigh {
		severity = SeverityHigh
	}

	return Alert{
		TS:       p.TS,
		Kind:     KindSpike,
		Severity: severity,
		Reason:   fmt.Sprintf("latency z=%.2f, backpressure=%.2f", z, p.Backpressure),
		Metrics: map[string]float64{
			"lat_p50":  p.LatencyP50,
			"lat_p90":  p.LatencyP90,
			"ewma_p50": d.ewmaP50,
			"ewma_p90": d.ewmaP90,
			"bp":       p.Backpressure,
			"z":        z,
		},
	}, true
}

func (d *Detector) checkDrift(p Sample) (Alert, bool) {
	ratio := driftRatio(p.LatencyP90, d.ewmaP90)
	if ratio < d.cfg.DriftFraction || d.ewmaErr < d.cfg.DriftErrorFloor {
		return Alert{}, false
	}

	return Alert{
		TS:       p.TS,
		Kind:     KindDrift,
		Severity: SeverityModerate,
		Reason:   fmt.Sprintf("latency drift %.1f%% with err=%.3f", ratio*100, d.ewmaErr),
		Metrics: map[string]float64{
			"lat_p90":   p.LatencyP90,
			"ewma_p90":  d.ewmaP90,
			"err":       d.ewmaErr,
			"drift_pct": ratio,
		},
	}, true
}

func driftRatio(x, mean float64) float64 {
	if mean <= 1e-6 {
		return 0
	}
	return math.Abs(x-mean) / mean
}

// checkRegime classifies the smoothed state and runs the confirmation
// state machine: a new label must persist for RegimeMinDuration before it
// is confirmed, and confirmations closer than Hysteresis to the previous
// regime alert are held back. Reverting to the confirmed regime abandons
// the pending change entirely.
func (d *Detector) checkRegime(p Sample) (Alert, bool) {
	label := d.classify(d.ewmaRate, d.ewmaP90)

	if label == d.regime {
		d.pendingSince = time.Time{}
		return Alert{}, false
	}

	if d.pendingSince.IsZero() {
		d.pendingSince = p.TS
		return Alert{}, false
	}

	if p.TS.Sub(d.pendingSince) < d.cfg.RegimeMinDuration {
		return Alert{}, false
	}
	if !d.lastRegimeAlert.IsZero() && p.TS.Sub(d.lastRegimeAlert) < d.cfg.Hysteresis {
		return Alert{}, false
	}

	d.regime = label
	d.lastRegimeAlert = p.TS
	d.pendingSince = time.Time{}

	return Alert{
		TS:       p.TS,
		Kind:     KindRegime,
		Severity: SeverityLow,
		Reason:   fmt.Sprintf("regime -> %s", label),
		Metrics: map[string]float64{
			"rate":    d.ewmaRate,
			"lat_p90": d.ewmaP90,
		},
	}, true
}

func (d *Detector) classify(rate, latP90 float64) Regime {
	if rate < d.cfg.LowRate && latP90 < d.cfg.LowLatency {
		return RegimeLow
	}
	if rate > d.cfg.HighRate || latP90 > d.cfg.HighLatency {
		return RegimeHigh
	}
	return RegimeNormal
}
