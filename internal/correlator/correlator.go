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

// Package correlator implements component G: events sharing a grouping key
// within a tumbling window are merged into one in-flight incident, which is
// emitted onto incidents.created when the window closes.
package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// suggestedRunbooks maps a (metric_name, anomaly_type) signature to the
// runbooks an operator should consult first.
var suggestedRunbooks = map[string][]string{
	"cpu_usage|statistical":       {"runbooks/high-cpu-usage.md"},
	"memory_usage|statistical":    {"runbooks/memory-pressure.md"},
	"disk_usage|statistical":      {"runbooks/disk-capacity.md"},
	"satellite_snr|statistical":   {"runbooks/satellite-link-degradation.md"},
	"network_latency|statistical": {"runbooks/network-latency.md"},
	"log_anomaly|log_pattern":     {"runbooks/log-pattern-triage.md"},
}

func runbooksFor(metricName, anomalyType string) []string {
	return suggestedRunbooks[metricName+"|"+anomalyType]
}

// group is one in-flight, not-yet-emitted incident.
type group struct {
	incident     *model.Incident
	firstEventAt time.Time
	lastEventAt  time.Time
}

func groupKey(shipID, service, metricName, anomalyType, severityBucket string) string {
	return shipID + "|" + service + "|" + metricName + "|" + anomalyType + "|" + severityBucket
}

// Correlator groups enriched events into incidents and emits them onto
// incidents.created when their window closes.
type Correlator struct {
	window     time.Duration
	idleClose  time.Duration
	gateway    bus.Gateway
	metrics    *metrics.PipelineMetrics

	mu     sync.Mutex
	groups map[string]*group
}

// New creates a Correlator using window as the tumbling-window duration and
// idleClose as the no-new-events close timeout.
func New(window, idleClose time.Duration, gateway bus.Gateway) *Correlator {
	return &Correlator{
		window:    window,
		idleClose: idleClose,
		gateway:   gateway,
		metrics:   metrics.New(),
		groups:    make(map[string]*group),
	}
}

// Subscribe registers the correlator's handler for anomaly.detected.enriched.final
// under consumer group "correlator", and starts the background window sweeper.
func (c *Correlator) Subscribe(ctx context.Context) error {
	go c.sweepLoop(ctx)
	return c.gateway.Subscribe(ctx, bus.TopicAnomalyDetectedEnrichedFinal, "correlator", c.handleEvent)
}

func (c *Correlator) handleEvent(ctx context.Context, msg bus.Message) error {
	var event model.EnrichedAnomalyEvent
	if err := msg.Unmarshal(&event); err != nil {
		logger.Warnf("correlator: malformed enriched event, dropping: %v", err)
		return nil
	}

	severityBucket := model.SeverityLow
	if event.EnrichmentContext.AIAnalysis != nil && event.EnrichmentContext.AIAnalysis.RiskLevel != "" {
		severityBucket = event.EnrichmentContext.AIAnalysis.RiskLevel
	}

	key := groupKey(event.ShipID, event.Service, event.MetricName, event.AnomalyType, severityBucket)

	c.mu.Lock()
	g, ok := c.groups[key]
	now := time.Now()
	if !ok {
		inc := model.NewIncident(uuid.NewString(), uuid.NewString(), event, event.AnomalyType)
		inc.Escalate(severityBucket)
		g = &group{incident: inc, firstEventAt: now, lastEventAt: now}
		c.groups[key] = g
	} else {
		g.incident.AddEvent(event)
		g.incident.Escalate(severityBucket)
		g.lastEventAt = now
	}
	c.mu.Unlock()

	return nil
}

// sweepLoop periodically checks every in-flight group and closes any whose
// window has elapsed or gone idle.
func (c *Correlator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Correlator) sweep(ctx context.Context) {
	now := time.Now()

	var closing []*group
	c.mu.Lock()
	for key, g := range c.groups {
		if now.Sub(g.firstEventAt) >= c.window || now.Sub(g.lastEventAt) >= c.idleClose {
			closing = append(closing, g)
			delete(c.groups, key)
		}
	}
	c.mu.Unlock()

	for _, g := range closing {
		c.emit(ctx, g.incident)
	}
}

func (c *Correlator) emit(ctx context.Context, incident *model.Incident) {
	incident.SuggestedRunbooks = runbooksFor(incident.MetricName, incident.IncidentType)

	if err := c.gateway.Publish(ctx, bus.TopicIncidentsCreated, incident.TrackingID, incident); err != nil {
		logger.Warnf("correlator: publish failed for incident_id=%s, dropping (upstream redelivery covers the source events): %v", incident.IncidentID, err)
		return
	}
	c.metrics.RecordIncidentCreated(incident.ShipID, incident.IncidentSeverity)
}
