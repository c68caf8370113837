package adapters

// VictoriaMetrics serves a Prometheus-compatible instant query API, so
// its source reuses the Prometheus implementation under its own name.

// NewVictoriaMetricsSource creates a source that queries a
// VictoriaMetrics endpoint with one PromQL/MetricsQL expression per
// signal.
func NewVictoriaMetricsSource(serverURL string, queries map[string]string) *PrometheusSource {
	return &PrometheusSource{
		ServerURL: serverURL,
		Queries:   queries,
		name:      "victoriametrics",
	}
}
