package adapters

import (
	"fmt"
	"net/http"
	"time"
)

// New constructs a Source from a kind name, a flat configuration map and
// the per-signal query/path map. Supported kinds are "prometheus",
// "victoriametrics" and "http".
//
// Common config keys:
//   - url: base URL of the target system (required)
//   - timeout: request timeout as a Go duration (optional, default 10s)
//
// HTTP-specific keys: method, bearerToken.
func New(kind string, config map[string]string, signals map[string]string) (Source, error) {
	if err := validateSignals(signals); err != nil {
		return nil, fmt.Errorf("adapter %q: %w", kind, err)
	}

	serverURL := config["url"]
	if serverURL == "" {
		return nil, fmt.Errorf("adapter %q: config key \"url\" is required", kind)
	}

	cli, err := clientFromConfig(config)
	if err != nil {
		return nil, fmt.Errorf("adapter %q: %w", kind, err)
	}

	switch kind {
	case "prometheus":
		return &PrometheusSource{ServerURL: serverURL, Queries: signals, HTTPClient: cli}, nil
	case "victoriametrics":
		src := NewVictoriaMetricsSource(serverURL, signals)
		src.HTTPClient = cli
		return src, nil
	case "http":
		return &HTTPSource{
			URL:         serverURL,
			Method:      config["method"],
			BearerToken: config["bearerToken"],
			Paths:       signals,
			HTTPClient:  cli,
		}, nil
	default:
		return nil, fmt.Errorf("unknown adapter kind %q (supported: prometheus, victoriametrics, http)", kind)
	}
}

func validateSignals(signals map[string]string) error {
	for _, name := range RequiredSignals() {
		if signals[name] == "" {
			return fmt.Errorf("signal %q is not configured", name)
		}
	}
	return nil
}

func clientFromConfig(config map[string]string) (*http.Client, error) {
	timeout := 10 * time.Second
	if raw := config["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("timeout must be positive, got %q", raw)
		}
		timeout = d
	}
	return &http.Client{Timeout: timeout}, nil
}
