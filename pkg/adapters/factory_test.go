package adapters

import "testing"

func allSignals() map[string]string {
	signals := make(map[string]string)
	for _, name := range RequiredSignals() {
		signals[name] = "query_for_" + name
	}
	return signals
}

func TestNew_Kinds(t *testing.T) {
	cases := []struct {
		kind     string
		wantName string
	}{
		{"prometheus", "prometheus"},
		{"victoriametrics", "victoriametrics"},
		{"http", "http"},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			src, err := New(tc.kind, map[string]string{"url": "http://target:9090"}, allSignals())
			if err != nil {
				t.Fatalf("New(%q) failed: %v", tc.kind, err)
			}
			if src.Name() != tc.wantName {
				t.Errorf("Name() = %q, want %q", src.Name(), tc.wantName)
			}
		})
	}
}

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New("kafka", map[string]string{"url": "http://x"}, allSignals()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNew_MissingURL(t *testing.T) {
	if _, err := New("prometheus", map[string]string{}, allSignals()); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestNew_MissingSignal(t *testing.T) {
	signals := allSignals()
	delete(signals, SignalBackpressure)
	if _, err := New("prometheus", map[string]string{"url": "http://x"}, signals); err == nil {
		t.Fatal("expected error for missing required signal")
	}
}

func TestNew_InvalidTimeout(t *testing.T) {
	cfg := map[string]string{"url": "http://x", "timeout": "soon"}
	if _, err := New("http", cfg, allSignals()); err == nil {
		t.Fatal("expected error for invalid timeout")
	}
}
