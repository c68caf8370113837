package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// promVector renders an instant-query response with the given values as
// separate series.
func promVector(values ...float64) string {
	out := `{"status":"success","data":{"resultType":"vector","result":[`
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"metric":{},"value":[1749000000,"%g"]}`, v)
	}
	return out + `]}}`
}

func TestPrometheusSource_Collect(t *testing.T) {
	responses := map[string]string{
		"edge_latency_p90": promVector(182.5),
		"edge_error_ratio": promVector(0.02, 0.01), // two shards, summed
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("path = %q, want /api/v1/query", r.URL.Path)
		}
		body, ok := responses[r.URL.Query().Get("query")]
		if !ok {
			t.Fatalf("unexpected query %q", r.URL.Query().Get("query"))
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	src := &PrometheusSource{
		ServerURL: srv.URL,
		Queries: map[string]string{
			SignalLatencyP90: "edge_latency_p90",
			SignalErrorRatio: "edge_error_ratio",
		},
	}

	values, err := src.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := values[SignalLatencyP90]; got != 182.5 {
		t.Errorf("latency_p90 = %v, want 182.5", got)
	}
	if got := values[SignalErrorRatio]; got != 0.03 {
		t.Errorf("error_ratio = %v, want summed 0.03", got)
	}
}

func TestPrometheusSource_Collect_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, promVector())
	}))
	defer srv.Close()

	src := &PrometheusSource{
		ServerURL: srv.URL,
		Queries:   map[string]string{SignalReqRate: "up"},
	}

	values, err := src.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := values[SignalReqRate]; got != 0 {
		t.Errorf("empty vector = %v, want 0", got)
	}
}

func TestPrometheusSource_Collect_Errors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"query error", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"error","errorType":"bad_data"}`)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":`)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			src := &PrometheusSource{
				ServerURL: srv.URL,
				Queries:   map[string]string{SignalReqRate: "up"},
			}
			if _, err := src.Collect(context.Background()); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestPrometheusSource_Collect_Unconfigured(t *testing.T) {
	src := &PrometheusSource{}
	if _, err := src.Collect(context.Background()); err == nil {
		t.Fatal("expected error for missing ServerURL")
	}
}
