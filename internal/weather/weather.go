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

// Package weather is a thin client for the enricher's weather-context
// lookup, feeding the maritime_context.operational_status classification
// (weather_impacted) and threshold-adjustment signals (rain_rate) the
// anomaly detector applies.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
)

// Conditions is the weather snapshot for a ship's location.
type Conditions struct {
	WindSpeedKnots float64 `json:"wind_speed_knots"`
	WaveHeightM    float64 `json:"wave_height_m"`
	RainRateMMH    float64 `json:"rain_rate_mm_h"`
	VisibilityKM   float64 `json:"visibility_km"`
	Storm          bool    `json:"storm"`
}

// Impacted reports whether conditions are severe enough to degrade
// satellite links or sensors, the signal the enricher folds into
// maritime_context.operational_status = weather_impacted.
func (c Conditions) Impacted() bool {
	return c.Storm || c.WindSpeedKnots > 40 || c.WaveHeightM > 4 || c.RainRateMMH > 20
}

// Client fetches current conditions for a ship's reported location.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.PipelineMetrics
}

// New creates a weather Client pointed at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics.New(),
	}
}

// Current returns the weather conditions at shipID's last-known location.
func (c *Client) Current(ctx context.Context, shipID string) (Conditions, error) {
	start := time.Now()
	defer func() { c.metrics.RecordDependencyCall("weather", time.Since(start)) }()

	u := fmt.Sprintf("%s/conditions?ship_id=%s", c.baseURL, url.QueryEscape(shipID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Conditions{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Conditions{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Conditions{}, fmt.Errorf("weather service returned %d", resp.StatusCode)
	}

	var cond Conditions
	if err := json.NewDecoder(resp.Body).Decode(&cond); err != nil {
		return Conditions{}, err
	}
	return cond, nil
}

// HealthCheck probes the weather service's own health endpoint.
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
		return fmt.Errorf("weather service health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
