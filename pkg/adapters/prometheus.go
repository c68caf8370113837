package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PrometheusSource evaluates one instant PromQL query per signal against
// the Prometheus HTTP API (/api/v1/query). If a query returns multiple
// series, their values are SUMMED.
type PrometheusSource struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Queries maps signal name to the PromQL expression producing it.
	Queries map[string]string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	name string
}

func (s *PrometheusSource) Name() string {
	if s.name == "" {
		return "prometheus"
	}
	return s.name
}

// Collect implements Source. Every configured signal is queried at the
// current instant; any failing query fails the collection.
func (s *PrometheusSource) Collect(ctx context.Context) (map[string]float64, error) {
	if s.ServerURL == "" {
		return nil, errors.New("prometheus source: ServerURL is required")
	}
	if len(s.Queries) == 0 {
		return nil, errors.New("prometheus source: no signal queries configured")
	}

	cli := s.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	values := make(map[string]float64, len(s.Queries))
	for signal, query := range s.Queries {
		v, err := s.query(ctx, cli, query)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", signal, err)
		}
		values[signal] = v
	}
	return values, nil
}

// promInstantResponse mirrors the relevant parts of the Prometheus
// instant-query response. Value is the [unix seconds, "value"] pair.
type promInstantResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Value [2]json.RawMessage `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func (s *PrometheusSource) query(ctx context.Context, cli *http.Client, query string) (float64, error) {
	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return 0, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var pr promInstantResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return 0, fmt.Errorf("prometheus status: %s", pr.Status)
	}

	sum := 0.0
	for _, series := range pr.Data.Result {
		var raw string
		if err := json.Unmarshal(series.Value[1], &raw); err != nil {
			return 0, fmt.Errorf("parse sample value: %w", err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("parse sample value %q: %w", raw, err)
		}
		sum += v
	}
	return sum, nil
}
