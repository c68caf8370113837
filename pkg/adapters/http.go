package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// maxResponseBytes bounds how much of a JSON response is read.
const maxResponseBytes = 4 << 20

// HTTPSource is a generic connector for any REST endpoint that exposes
// the signals in a single JSON response. One request is issued per
// collection and per-signal values are extracted with gjson path
// expressions.
//
// Example configuration for a status endpoint:
//
//	src := &HTTPSource{
//		URL: "https://edge-1.internal/status",
//		BearerToken: token,
//		Paths: map[string]string{
//			SignalLatencyP90: "latency.p90_ms",
//			SignalErrorRatio: "errors.ratio",
//		},
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required).
	URL string
	// Method is the HTTP method; defaults to GET.
	Method string
	// BearerToken, when set, is sent as an Authorization header.
	BearerToken string
	// Headers are additional request headers.
	Headers map[string]string
	// Paths maps signal name to the gjson path of its value in the
	// response body.
	Paths map[string]string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (s *HTTPSource) Name() string { return "http" }

// Collect implements Source.
func (s *HTTPSource) Collect(ctx context.Context) (map[string]float64, error) {
	if s.URL == "" {
		return nil, errors.New("http source: URL is required")
	}
	if len(s.Paths) == 0 {
		return nil, errors.New("http source: no signal paths configured")
	}

	method := s.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.BearerToken)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	cli := s.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http source: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("http source: response is not valid JSON")
	}

	values := make(map[string]float64, len(s.Paths))
	for signal, path := range s.Paths {
		r := gjson.GetBytes(body, path)
		if !r.Exists() {
			return nil, fmt.Errorf("signal %s: path %q not found in response", signal, path)
		}
		if r.Type != gjson.Number {
			return nil, fmt.Errorf("signal %s: path %q is not numeric (got %s)", signal, path, r.Type)
		}
		values[signal] = r.Float()
	}
	return values, nil
}
