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

// Package registry is the Device Registry Client: lookup(host_or_ip) ->
// DeviceMapping, backed by a per-process TTL cache. A transport failure
// never surfaces as an error to the caller — it returns nil, exactly like a
// genuine "unknown device" answer, since every caller already has to
// tolerate absence.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	pipelineerrors "github.com/iLodeStar/AIOps-NAAS-sub000/internal/errors"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// unresolvable values short-circuit to a nil mapping without a remote call.
var unresolvable = map[string]struct{}{
	"unknown":   {},
	"":          {},
	"localhost": {},
}

type cacheEntry struct {
	mapping   *model.DeviceMapping
	expiresAt time.Time
}

// Client is the Device Registry Client.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	lookupTimeout  time.Duration
	cacheTTL       time.Duration
	metrics        *metrics.PipelineMetrics

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a Device Registry Client pointed at baseURL (e.g.
// "http://device-registry:8090"), looking up entries within lookupTimeout
// and caching hits for cacheTTL.
func New(baseURL string, lookupTimeout, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: lookupTimeout},
		lookupTimeout: lookupTimeout,
		cacheTTL:      cacheTTL,
		metrics:       metrics.New(),
		cache:         make(map[string]cacheEntry),
	}
}

// Lookup resolves hostOrIP to a DeviceMapping, or nil if unknown or
// unreachable. Non-blocking after a cache hit.
func (c *Client) Lookup(ctx context.Context, hostOrIP string) *model.DeviceMapping {
	key := strings.ToLower(strings.TrimSpace(hostOrIP))
	if _, skip := unresolvable[key]; skip {
		return nil
	}

	if mapping, ok := c.fromCache(key); ok {
		return mapping
	}

	start := time.Now()
	mapping, err := c.fetch(ctx, key)
	c.metrics.RecordDependencyCall("device_registry", time.Since(start))
	if err != nil {
		logger.Warnf("device registry lookup failed for %s: [%s] %v", hostOrIP, pipelineerrors.GetKind(err), err)
		// Negative caching is disabled: a transport failure is retried on
		// the next request rather than remembered.
		return nil
	}

	c.store(key, mapping)
	return mapping
}

func (c *Client) fromCache(key string) (*model.DeviceMapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.mapping, true
}

func (c *Client) store(key string, mapping *model.DeviceMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{mapping: mapping, expiresAt: time.Now().Add(c.cacheTTL)}
}

func (c *Client) fetch(ctx context.Context, key string) (*model.DeviceMapping, error) {
	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/devices/%s", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pipelineerrors.DeadlineExceeded("registry.fetch", err)
		}
		return nil, pipelineerrors.DependencyUnavailable("registry.fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, pipelineerrors.New(pipelineerrors.KindDependencyUnavailable, "registry.fetch", fmt.Sprintf("device registry returned %d: %s", resp.StatusCode, string(body)))
	}

	var mapping model.DeviceMapping
	if err := json.NewDecoder(resp.Body).Decode(&mapping); err != nil {
		return nil, pipelineerrors.Parse("registry.fetch", err)
	}
	return &mapping, nil
}

// HealthCheck issues a lightweight probe against the registry's own health
// endpoint, for wiring into internal/health.
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
		return fmt.Errorf("device registry health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
