// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metricsstore is the Metrics Store Client: instant queries, a
// baseline with client-side caching so a metric/ship pair is not
// recomputed more than once per detection cycle, and historical
// correlation-pattern lookups for enrichment.
package metricsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
)

// StaleAfter is the maximum age a Baseline may reach before a caller should
// treat it as stale regardless of the client's own recompute cadence.
const StaleAfter = 6 * time.Hour

// InstantResult is one point returned by instant().
type InstantResult struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
	Ts     time.Time         `json:"ts"`
}

// Baseline summarizes a metric's recent historical distribution. A zero
// SampleCount means "no baseline available" rather than an all-zero
// baseline, per the empty-when-sample_count-is-zero contract.
type Baseline struct {
	Avg         float64   `json:"avg"`
	Median      float64   `json:"median"`
	P95         float64   `json:"p95"`
	P99         float64   `json:"p99"`
	SampleCount int       `json:"sample_count"`
	ComputedAt  time.Time `json:"-"`
}

// Empty reports whether the baseline carries no samples.
func (b Baseline) Empty() bool { return b.SampleCount == 0 }

// Stale reports whether the baseline is older than StaleAfter.
func (b Baseline) Stale() bool { return time.Since(b.ComputedAt) > StaleAfter }

// CorrelationPattern is one historical event matching an anomaly's
// severity/time-of-day/host profile, used to augment enrichment.
type CorrelationPattern struct {
	Timestamp time.Time `json:"timestamp"`
	MetricName string   `json:"metric_name"`
	ShipID    string    `json:"ship_id"`
	Score     float64   `json:"score"`
}

type baselineEntry struct {
	baseline Baseline
}

// Client is the Metrics Store Client.
type Client struct {
	baseURL           string
	httpClient        *http.Client
	recomputeInterval time.Duration
	metrics           *metrics.PipelineMetrics

	mu       sync.Mutex
	baselines map[string]baselineEntry
}

// New creates a Metrics Store Client. recomputeInterval is how long a cached
// baseline is served before it is fetched again; at or above the anomaly
// detector's pull-loop cycle, a baseline is fetched at most once per cycle
// per metric per ship.
func New(baseURL string, timeout, recomputeInterval time.Duration) *Client {
	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		httpClient:        &http.Client{Timeout: timeout},
		recomputeInterval: recomputeInterval,
		metrics:           metrics.New(),
		baselines:         make(map[string]baselineEntry),
	}
}

// Instant executes query and returns its current result set.
func (c *Client) Instant(ctx context.Context, query string) ([]InstantResult, error) {
	start := time.Now()
	defer func() { c.metrics.RecordDependencyCall("metrics_store", time.Since(start)) }()

	u := fmt.Sprintf("%s/api/v1/query?query=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metrics store instant query returned %d", resp.StatusCode)
	}

	var results []InstantResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, err
	}
	return results, nil
}

func cacheKey(metric, shipID string) string { return metric + "|" + shipID }

// Baseline returns the days-wide historical baseline for metric on shipID,
// serving a cached value if one was computed within recomputeInterval.
func (c *Client) Baseline(ctx context.Context, metric, shipID string, days int) (Baseline, error) {
	key := cacheKey(metric, shipID)

	c.mu.Lock()
	if entry, ok := c.baselines[key]; ok && time.Since(entry.baseline.ComputedAt) < c.recomputeInterval {
		c.mu.Unlock()
		return entry.baseline, nil
	}
	c.mu.Unlock()

	start := time.Now()
	baseline, err := c.fetchBaseline(ctx, metric, shipID, days)
	c.metrics.RecordDependencyCall("metrics_store", time.Since(start))
	if err != nil {
		return Baseline{}, err
	}
	baseline.ComputedAt = time.Now()

	c.mu.Lock()
	c.baselines[key] = baselineEntry{baseline: baseline}
	c.mu.Unlock()

	return baseline, nil
}

func (c *Client) fetchBaseline(ctx context.Context, metric, shipID string, days int) (Baseline, error) {
	u := fmt.Sprintf("%s/api/v1/baseline?metric=%s&ship_id=%s&days=%d",
		c.baseURL, url.QueryEscape(metric), url.QueryEscape(shipID), days)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Baseline{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Baseline{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Baseline{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Baseline{}, fmt.Errorf("metrics store baseline query returned %d", resp.StatusCode)
	}

	var baseline Baseline
	if err := json.NewDecoder(resp.Body).Decode(&baseline); err != nil {
		return Baseline{}, err
	}
	return baseline, nil
}

// CorrelationPatterns returns historical events matching anomaly's
// severity/time-of-day/host profile.
func (c *Client) CorrelationPatterns(ctx context.Context, metric, shipID string, score float64) ([]CorrelationPattern, error) {
	start := time.Now()
	defer func() { c.metrics.RecordDependencyCall("metrics_store", time.Since(start)) }()

	u := fmt.Sprintf("%s/api/v1/correlation_patterns?metric=%s&ship_id=%s&score=%.4f",
		c.baseURL, url.QueryEscape(metric), url.QueryEscape(shipID), score)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metrics store correlation_patterns query returned %d", resp.StatusCode)
	}

	var patterns []CorrelationPattern
	if err := json.NewDecoder(resp.Body).Decode(&patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

// HealthCheck probes the metrics store's own health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("metrics store health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
