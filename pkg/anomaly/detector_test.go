package anomaly

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(ts time.Time, p50, p90, errRatio, rate, bp float64) Sample {
	return Sample{
		TS:           ts,
		LatencyP50:   p50,
		LatencyP90:   p90,
		ErrorRatio:   errRatio,
		ReqRate:      rate,
		Backpressure: bp,
	}
}

func mustIngest(t *testing.T, d *Detector, p Sample) []Alert {
	t.Helper()
	alerts, err := d.Ingest(p)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return alerts
}

func TestIngest_ColdStartBootstrapsEWMA(t *testing.T) {
	d := New(DefaultConfig())

	// First sample ever: EWMA equals the raw values, variance is zero,
	// and even an enormous latency must not read as a spike.
	alerts := mustIngest(t, d, sampleAt(t0, 5000, 9000, 0.01, 100, 0.1))

	s := d.State()
	if s.EWMALatencyP50 != 5000 || s.EWMALatencyP90 != 9000 {
		t.Errorf("cold start EWMA = (%v, %v), want raw values", s.EWMALatencyP50, s.EWMALatencyP90)
	}
	if s.EWMAErrorRatio != 0.01 || s.EWMAReqRate != 100 {
		t.Errorf("cold start err/rate EWMA = (%v, %v), want (0.01, 100)", s.EWMAErrorRatio, s.EWMAReqRate)
	}
	if s.VarLatencyP50 != 0 || s.VarLatencyP90 != 0 {
		t.Errorf("cold start variance = (%v, %v), want zero", s.VarLatencyP50, s.VarLatencyP90)
	}
	if len(alerts) != 0 {
		t.Fatalf("cold start produced alerts: %v", alerts)
	}
}

func TestIngest_ColdStartBackpressureStillFires(t *testing.T) {
	d := New(DefaultConfig())

	alerts := mustIngest(t, d, sampleAt(t0, 40, 80, 0.01, 100, 0.95))

	if len(alerts) != 1 || alerts[0].Kind != KindSpike {
		t.Fatalf("got %v, want one spike alert", alerts)
	}
	if alerts[0].Severity != SeverityHigh {
		t.Errorf("severity = %v, want high at backpressure 0.95", alerts[0].Severity)
	}
}

func TestIngest_EWMAInterpolatesBetweenOldAndNew(t *testing.T) {
	d := New(DefaultConfig())
	mustIngest(t, d, sampleAt(t0, 40, 80, 0.02, 100, 0.1))
	old := d.State()

	next := sampleAt(t0.Add(10*time.Second), 60, 180, 0.06, 120, 0.2)
	mustIngest(t, d, next)
	got := d.State()

	between := func(name string, v, lo, hi float64) {
		t.Helper()
		if lo > hi {
			lo, hi = hi, lo
		}
		if v < lo || v > hi {
			t.Errorf("%s = %v, want within [%v, %v]", name, v, lo, hi)
		}
	}
	between("ewma p50", got.EWMALatencyP50, old.EWMALatencyP50, next.LatencyP50)
	between("ewma p90", got.EWMALatencyP90, old.EWMALatencyP90, next.LatencyP90)
	between("ewma err", got.EWMAErrorRatio, old.EWMAErrorRatio, next.ErrorRatio)
	between("ewma rate", got.EWMAReqRate, old.EWMAReqRate, next.ReqRate)
}

func TestIngest_BackpressureSpikeScenario(t *testing.T) {
	d := New(DefaultConfig())

	mustIngest(t, d, sampleAt(t0, 40, 80, 0.01, 100, 0.1))
	mustIngest(t, d, sampleAt(t0.Add(time.Second), 60, 180, 0.06, 120, 0.2))
	alerts := mustIngest(t, d, sampleAt(t0.Add(2*time.Second), 65, 220, 0.08, 130, 0.85))

	if len(alerts) != 1 {
		t.Fatalf("got %d alerts (%v), want 1", len(alerts), alerts)
	}
	a := alerts[0]
	if a.Kind != KindSpike {
		t.Fatalf("kind = %v, want spike", a.Kind)
	}
	// Backpressure 0.85 is below the high threshold and z stays small.
	if a.Severity != SeverityModerate {
		t.Errorf("severity = %v, want moderate", a.Severity)
	}
	if a.Metrics["bp"] != 0.85 {
		t.Errorf("metrics bp = %v, want 0.85", a.Metrics["bp"])
	}
}

func TestIngest_ZScoreDecreasesOnRepeatedOutlier(t *testing.T) {
	d := New(DefaultConfig())
	mustIngest(t, d, sampleAt(t0, 50, 100, 0.0, 100, 0.0))
	mustIngest(t, d, sampleAt(t0.Add(time.Second), 50, 100, 0.0, 100, 0.0))

	// Backpressure forces the alert out on both calls so we can read the
	// z-score; the EWMA adapts toward the outlier, so z must fall.
	first := mustIngest(t, d, sampleAt(t0.Add(2*time.Second), 50, 400, 0.0, 100, 0.85))
	second := mustIngest(t, d, sampleAt(t0.Add(3*time.Second), 50, 400, 0.0, 100, 0.85))

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one spike per outlier, got %d then %d", len(first), len(second))
	}
	z1, z2 := first[0].Metrics["z"], second[0].Metrics["z"]
	if !(z2 < z1) {
		t.Errorf("z did not decrease on repeat: first=%v second=%v", z1, z2)
	}
}

func TestIngest_DriftRequiresErrorCorroboration(t *testing.T) {
	cases := []struct {
		name      string
		errRatio  float64
		wantDrift bool
	}{
		{"elevated errors", 0.2, true},
		{"healthy errors", 0.01, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(DefaultConfig())
			mustIngest(t, d, sampleAt(t0, 50, 100, tc.errRatio, 100, 0.0))
			// p90 150 vs EWMA 110 is a 36% shift, past the 25% threshold.
			alerts := mustIngest(t, d, sampleAt(t0.Add(10*time.Second), 50, 150, tc.errRatio, 100, 0.0))

			var drift *Alert
			for i := range alerts {
				if alerts[i].Kind == KindDrift {
					drift = &alerts[i]
				}
			}
			if tc.wantDrift && drift == nil {
				t.Fatalf("expected drift alert, got %v", alerts)
			}
			if !tc.wantDrift && drift != nil {
				t.Fatalf("unexpected drift alert: %v", *drift)
			}
			if drift != nil && drift.Severity != SeverityModerate {
				t.Errorf("drift severity = %v, want moderate", drift.Severity)
			}
		})
	}
}

// steady returns a sample that keeps latency flat so only the regime rule
// can fire; rate drives the classification.
func steady(ts time.Time, rate float64) Sample {
	return sampleAt(ts, 50, 100, 0.0, rate, 0.1)
}

func regimeAlerts(alerts []Alert) []Alert {
	var out []Alert
	for _, a := range alerts {
		if a.Kind == KindRegime {
			out = append(out, a)
		}
	}
	return out
}

func TestIngest_RegimeConfirmationNeedsSustainedDuration(t *testing.T) {
	d := New(DefaultConfig())

	// Cold start classifies as normal; the pending change from the
	// unclassified state starts its clock here.
	mustIngest(t, d, steady(t0, 290))

	// 29 seconds in: not sustained long enough.
	alerts := mustIngest(t, d, steady(t0.Add(29*time.Second), 290))
	if got := regimeAlerts(alerts); len(got) != 0 {
		t.Fatalf("regime alert after 29s, want none: %v", got)
	}

	// 30 seconds in: confirmed, exactly one alert.
	alerts = mustIngest(t, d, steady(t0.Add(30*time.Second), 290))
	got := regimeAlerts(alerts)
	if len(got) != 1 {
		t.Fatalf("got %d regime alerts, want 1", len(got))
	}
	if got[0].Reason != "regime -> normal" {
		t.Errorf("reason = %q, want %q", got[0].Reason, "regime -> normal")
	}
	if d.Regime() != RegimeNormal {
		t.Errorf("confirmed regime = %q, want normal", d.Regime())
	}

	// Steady state afterwards stays silent.
	alerts = mustIngest(t, d, steady(t0.Add(60*time.Second), 290))
	if got := regimeAlerts(alerts); len(got) != 0 {
		t.Fatalf("regime alert in steady state: %v", got)
	}
}

func TestIngest_RegimeRevertAbandonsPendingChange(t *testing.T) {
	d := New(DefaultConfig())

	// Confirm normal: EWMA rate 290, below the high threshold of 300.
	mustIngest(t, d, steady(t0, 290))
	mustIngest(t, d, steady(t0.Add(30*time.Second), 290))

	// Push the smoothed rate over 300: 0.15*400 + 0.85*290 = 306.5.
	alerts := mustIngest(t, d, steady(t0.Add(60*time.Second), 400))
	if got := regimeAlerts(alerts); len(got) != 0 {
		t.Fatalf("premature regime alert: %v", got)
	}

	// Revert below 300 before the 30s confirmation window elapses:
	// 0.15*250 + 0.85*306.5 = 298.0, back to normal. The pending change
	// is abandoned, not remembered.
	mustIngest(t, d, steady(t0.Add(75*time.Second), 250))

	// Well past the original window: still no alert, regime unchanged.
	alerts = mustIngest(t, d, steady(t0.Add(120*time.Second), 250))
	if got := regimeAlerts(alerts); len(got) != 0 {
		t.Fatalf("abandoned change still alerted: %v", got)
	}
	if d.Regime() != RegimeNormal {
		t.Errorf("regime = %q, want normal", d.Regime())
	}
}

func TestIngest_RegimeHysteresisSuppressesCloseAlerts(t *testing.T) {
	// With the reference constants a confirmation can never land inside
	// the hysteresis window (it needs 30s of pending time and the
	// previous alert cleared the pending timer), so drive the gate with
	// a wider window.
	cfg := DefaultConfig()
	cfg.Hysteresis = 60 * time.Second
	d := New(cfg)

	// First confirmation at t0+30.
	mustIngest(t, d, steady(t0, 290))
	alerts := mustIngest(t, d, steady(t0.Add(30*time.Second), 290))
	if got := regimeAlerts(alerts); len(got) != 1 {
		t.Fatalf("got %d regime alerts, want 1", len(got))
	}

	// A qualifying change to high: sustained from t0+40 onwards.
	mustIngest(t, d, steady(t0.Add(40*time.Second), 4000)) // EWMA well above 300
	alerts = mustIngest(t, d, steady(t0.Add(70*time.Second), 4000))
	// Sustained 30s, but only 40s since the last alert: suppressed.
	if got := regimeAlerts(alerts); len(got) != 0 {
		t.Fatalf("hysteresis did not suppress: %v", got)
	}
	if d.Regime() != RegimeNormal {
		t.Errorf("regime advanced during suppression: %q", d.Regime())
	}

	// Once the hysteresis window has passed the held-back confirmation
	// goes out.
	alerts = mustIngest(t, d, steady(t0.Add(95*time.Second), 4000))
	got := regimeAlerts(alerts)
	if len(got) != 1 {
		t.Fatalf("got %d regime alerts after hysteresis, want 1", len(got))
	}
	if got[0].Reason != "regime -> high" {
		t.Errorf("reason = %q, want %q", got[0].Reason, "regime -> high")
	}
	if d.Regime() != RegimeHigh {
		t.Errorf("regime = %q, want high", d.Regime())
	}
}

func TestIngest_RejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name   string
		sample Sample
	}{
		{"nan latency", sampleAt(t0, math.NaN(), 80, 0.01, 100, 0.1)},
		{"inf rate", sampleAt(t0, 40, 80, 0.01, math.Inf(1), 0.1)},
		{"error ratio above one", sampleAt(t0, 40, 80, 1.5, 100, 0.1)},
		{"negative backpressure", sampleAt(t0, 40, 80, 0.01, 100, -0.2)},
		{"negative latency", sampleAt(t0, -40, 80, 0.01, 100, 0.1)},
		{"zero timestamp", sampleAt(time.Time{}, 40, 80, 0.01, 100, 0.1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(DefaultConfig())
			mustIngest(t, d, sampleAt(t0, 40, 80, 0.01, 100, 0.1))
			before := d.State()

			_, err := d.Ingest(tc.sample)
			if !errors.Is(err, ErrInvalidSample) {
				t.Fatalf("err = %v, want ErrInvalidSample", err)
			}
			if d.State() != before {
				t.Errorf("state mutated by rejected sample")
			}
		})
	}
}
