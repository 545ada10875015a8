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

// Package health tracks per-dependency liveness for a component process and
// serves it on GET /health. A component probes the dependencies it registers
// here on a slow interval; a critical dependency being down degrades that
// component's own /health readiness without crashing the process.
// Dependencies a component calls but does not register are not probed.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
)

// ComponentStatus represents the health status of one dependency.
type ComponentStatus struct {
	Healthy     bool
	LastChecked time.Time
	Message     string
	// Critical dependencies failing their probe fail readiness; non-critical
	// ones (e.g. the enhancement endpoint, which has a deterministic
	// fallback) only annotate the report.
	Critical bool
}

// Prober is an optional active check a dependency registers alongside its
// name; if nil the dependency is only updated passively via UpdateStatus
// from the component's own request path.
type Prober func(ctx context.Context) error

type registeredDependency struct {
	status   *ComponentStatus
	probe    Prober
	critical bool
}

// Checker tracks dependency health for one component process.
type Checker struct {
	mu               sync.RWMutex
	component        string
	dependencies     map[string]*registeredDependency
	checkInterval    time.Duration
	lastOverallCheck time.Time
}

// New creates a health checker for the named component ("anomalydetector",
// "enricher", ...).
func New(component string) *Checker {
	return &Checker{
		component:     component,
		dependencies:  make(map[string]*registeredDependency),
		checkInterval: 30 * time.Second,
	}
}

// Register adds a dependency to track. probe may be nil if the caller only
// wants to report status via UpdateStatus from request-path errors.
func (c *Checker) Register(name string, critical bool, probe Prober) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dependencies[name] = &registeredDependency{
		status: &ComponentStatus{
			Healthy:     true,
			LastChecked: time.Now(),
			Message:     "not yet probed",
			Critical:    critical,
		},
		probe:    probe,
		critical: critical,
	}
}

// UpdateStatus records the outcome of a dependency call observed on the
// normal request path, without waiting for the next probe interval.
func (c *Checker) UpdateStatus(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dep, exists := c.dependencies[name]
	if !exists {
		dep = &registeredDependency{status: &ComponentStatus{}}
		c.dependencies[name] = dep
	}
	dep.status.Healthy = healthy
	dep.status.LastChecked = time.Now()
	dep.status.Message = message

	logger.Debugf("health status updated for %s/%s: healthy=%v, message=%s", c.component, name, healthy, message)
}

// Status returns a copy of one dependency's status.
func (c *Checker) Status(name string) (ComponentStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dep, exists := c.dependencies[name]
	if !exists {
		return ComponentStatus{}, false
	}
	return *dep.status, true
}

// IsHealthy reports whether every critical dependency is healthy and was
// checked recently.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, dep := range c.dependencies {
		if !dep.critical {
			continue
		}
		if !dep.status.Healthy {
			return false
		}
		if time.Since(dep.status.LastChecked) > 5*time.Minute {
			logger.Warnf("dependency %s health check is stale (last checked %v ago)", name, time.Since(dep.status.LastChecked))
			return false
		}
	}

	return true
}

// Report returns a JSON-serializable snapshot of every dependency's status.
func (c *Checker) Report() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	deps := make(map[string]interface{}, len(c.dependencies))
	for name, dep := range c.dependencies {
		deps[name] = map[string]interface{}{
			"healthy":      dep.status.Healthy,
			"last_checked": dep.status.LastChecked,
			"message":      dep.status.Message,
			"critical":     dep.critical,
			"age":          time.Since(dep.status.LastChecked).String(),
		}
	}

	return map[string]interface{}{
		"component":       c.component,
		"overall_healthy": c.isHealthyLocked(),
		"last_check":      c.lastOverallCheck,
		"dependencies":    deps,
	}
}

func (c *Checker) isHealthyLocked() bool {
	for name, dep := range c.dependencies {
		if !dep.critical {
			continue
		}
		if !dep.status.Healthy || time.Since(dep.status.LastChecked) > 5*time.Minute {
			_ = name
			return false
		}
	}
	return true
}

// StartProbing runs every registered active Prober on checkInterval until
// ctx is canceled.
func (c *Checker) StartProbing(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.checkInterval)
		defer ticker.Stop()

		c.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				logger.Infof("stopping dependency probing for %s", c.component)
				return
			case <-ticker.C:
				c.probeAll(ctx)
			}
		}
	}()
}

func (c *Checker) probeAll(ctx context.Context) {
	c.mu.Lock()
	c.lastOverallCheck = time.Now()
	names := make([]string, 0, len(c.dependencies))
	probes := make(map[string]Prober, len(c.dependencies))
	for name, dep := range c.dependencies {
		if dep.probe != nil {
			names = append(names, name)
			probes[name] = dep.probe
		}
	}
	c.mu.Unlock()

	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := probes[name](probeCtx)
		cancel()
		if err != nil {
			c.UpdateStatus(name, false, fmt.Sprintf("probe failed: %v", err))
		} else {
			c.UpdateStatus(name, true, "probe succeeded")
		}
	}
}

// SetCheckInterval changes the probing interval.
func (c *Checker) SetCheckInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkInterval = interval
}

// ServeHTTP implements the component's GET /health endpoint: 200 when every
// critical dependency is healthy, 503 otherwise, always with the full
// per-dependency report as the body.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := c.Report()

	w.Header().Set("Content-Type", "application/json")
	if c.IsHealthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(report)
}

// CheckHTTPEndpoint is a Prober helper for dependencies exposed as a plain
// HTTP health/status endpoint.
func CheckHTTPEndpoint(url string) Prober {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
		}
		return nil
	}
}
