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

// Package anomalydetector orchestrates component E: a periodic pull loop
// over the Metrics Store plus a push subscription to logs.anomalous, both
// scoring through internal/detector and publishing AnomalyEvents onto
// anomaly.detected via internal/bus.
package anomalydetector

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/config"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/detector"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metricsstore"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/opcontext"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/registry"
)

// MetricQuery is one pull-loop target.
type MetricQuery struct {
	Name      string
	Query     string
	Threshold float64
	Service   string
}

// DefaultQueries is the minimum metric set named in the external interfaces
// contract's threshold table.
func DefaultQueries(thresholds *config.ThresholdsConfig) []MetricQuery {
	return []MetricQuery{
		{Name: "cpu_usage", Query: "cpu_usage", Threshold: thresholds.Get("cpu_usage", 0.7), Service: "system"},
		{Name: "memory_usage", Query: "memory_usage", Threshold: thresholds.Get("memory_usage", 0.6), Service: "system"},
		{Name: "disk_usage", Query: "disk_usage", Threshold: thresholds.Get("disk_usage", 0.8), Service: "system"},
		{Name: "satellite_snr", Query: "satellite_snr", Threshold: thresholds.Get("satellite_snr", 0.7), Service: "satellite"},
		{Name: "network_latency", Query: "network_latency", Threshold: thresholds.Get("network_latency", 0.7), Service: "network"},
	}
}

// Detector runs the pull loop and the log-path subscriber.
type Detector struct {
	shipID        string
	queries       []MetricQuery
	cycle         time.Duration
	windowSize    int
	metricsStore  *metricsstore.Client
	registryClient *registry.Client
	opctx         *opcontext.Store
	gateway       bus.Gateway
	metrics       *metrics.PipelineMetrics

	windows map[string]*detector.Window
}

// New creates a Detector. shipID identifies this node's own vessel for
// pull-loop events; log-path events resolve ship_id per-record instead.
func New(shipID string, queries []MetricQuery, cycle time.Duration, windowSize int, metricsStore *metricsstore.Client, registryClient *registry.Client, opctx *opcontext.Store, gateway bus.Gateway) *Detector {
	return &Detector{
		shipID:         shipID,
		queries:        queries,
		cycle:          cycle,
		windowSize:     windowSize,
		metricsStore:   metricsStore,
		registryClient: registryClient,
		opctx:          opctx,
		gateway:        gateway,
		metrics:        metrics.New(),
		windows:        make(map[string]*detector.Window),
	}
}

func windowKey(metric, shipID string) string { return metric + "|" + shipID }

func (d *Detector) windowFor(metric, shipID string) *detector.Window {
	key := windowKey(metric, shipID)
	if w, ok := d.windows[key]; ok {
		return w
	}
	w := detector.NewWindow(d.windowSize)
	d.windows[key] = w
	return w
}

// Run blocks running the pull loop every cycle until ctx is canceled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Detector) runCycle(ctx context.Context) {
	for _, q := range d.queries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("anomaly detector: cycle panic for metric %s: %v", q.Name, r)
				}
			}()
			d.evaluateQuery(ctx, q)
		}()
	}
}

func (d *Detector) evaluateQuery(ctx context.Context, q MetricQuery) {
	results, err := d.metricsStore.Instant(ctx, q.Query)
	if err != nil {
		logger.Warnf("anomaly detector: metric store query %q failed, skipping cycle: %v", q.Name, err)
		return
	}

	for _, result := range results {
		shipID := result.Labels["ship_id"]
		if shipID == "" {
			shipID = derivedShipID(result.Labels["host"])
		}

		window := d.windowFor(q.Name, shipID)
		scores := detector.Evaluate(q.Name, result.Value, window)

		historical := d.historicalScore(ctx, q.Name, shipID, result.Value)
		combined := math.Max(scores.Max(), historical)

		window.Append(result.Value)

		effectiveThreshold := d.effectiveThreshold(shipID, q)
		if combined <= effectiveThreshold {
			continue
		}

		event := model.NewAnomalyEvent(
			uuid.NewString(), shipID, q.Service, model.DomainSystem,
			"statistical", q.Name, result.Value, effectiveThreshold, combined,
			bestDetector(scores),
		)

		d.publish(ctx, event)
	}
}

// historicalScore approximates a baseline-deviation score: a z-score style
// comparison of the current value against the baseline's avg, using
// (p99-avg)/3 as a standard-deviation proxy since the Metrics Store baseline
// exposes percentiles rather than a variance.
func (d *Detector) historicalScore(ctx context.Context, metric, shipID string, value float64) float64 {
	baseline, err := d.metricsStore.Baseline(ctx, metric, shipID, 7)
	if err != nil || baseline.Empty() || baseline.Stale() {
		return 0
	}
	sigma := (baseline.P99 - baseline.Avg) / 3
	if sigma <= 0 {
		return 0
	}
	score := math.Abs(value-baseline.Avg) / (3 * sigma)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func bestDetector(s detector.Scores) string {
	switch s.Max() {
	case s.ZScore:
		return "zscore"
	case s.EWMA:
		return "ewma"
	case s.MAD:
		return "mad"
	default:
		return "fixed_threshold"
	}
}

// effectiveThreshold applies §4.E's operational-context adjustment table to
// q.Threshold, reading the ship's latest classification from opcontext.
// Multiple applicable adjustments compound (e.g. weather_impacted AND a
// high rain rate both scale a satellite metric).
func (d *Detector) effectiveThreshold(shipID string, q MetricQuery) float64 {
	threshold := q.Threshold
	snap := d.opctx.Get(shipID)

	isCPUOrMemory := q.Name == "cpu_usage" || q.Name == "memory_usage"
	isSatellite := q.Service == "satellite"
	isNetwork := q.Service == "network"

	switch snap.OperationalStatus {
	case model.OperationalStatusWeatherImpacted:
		if isCPUOrMemory {
			threshold *= 0.85
		}
		if isSatellite {
			threshold *= 0.80
		}
	case model.OperationalStatusDegradedComms:
		if isNetwork {
			threshold *= 1.20
		} else {
			threshold *= 0.90
		}
	case model.OperationalStatusSystemOverloaded:
		if isCPUOrMemory {
			threshold *= 1.10
		}
	}

	if isSatellite && snap.RainRateMMH > 5 {
		threshold *= 0.75
	}

	return threshold
}

func (d *Detector) publish(ctx context.Context, event model.AnomalyEvent) {
	if err := d.gateway.Publish(ctx, bus.TopicAnomalyDetected, event.TrackingID, event); err != nil {
		logger.Warnf("anomaly detector: publish failed for tracking_id=%s, dropping (upstream redelivery covers it): %v", event.TrackingID, err)
		return
	}
	d.metrics.RecordAnomalyDetected(event.ShipID, event.MetricName)
}

// derivedShipID falls back to the hostname-derivation rule when no ship_id
// label or registry hit is available: first hyphen-segment + "-ship", else
// the host itself + "-ship", else "unknown-ship".
func derivedShipID(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown-ship"
	}
	if idx := strings.Index(host, "-"); idx > 0 {
		return host[:idx] + "-ship"
	}
	return host + "-ship"
}

// Normal-operational log message patterns the log-path subscriber skips
// even when level/severity alone would not exclude them.
var normalOperationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)health\s*check`),
	regexp.MustCompile(`(?i)metric\s*echo`),
	regexp.MustCompile(`(?i)startup\s*complete`),
	regexp.MustCompile(`(?i)heartbeat`),
	regexp.MustCompile(`(?i)status\s*ok`),
	regexp.MustCompile(`(?i)connection\s*established`),
	regexp.MustCompile(`(?i)configuration\s*loaded`),
}

func isNormalOperational(message string) bool {
	for _, re := range normalOperationalPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

var skippedLevels = map[string]struct{}{
	"info": {}, "debug": {}, "trace": {},
}
var skippedSeverities = map[string]struct{}{
	"info": {}, "low": {}, "debug": {},
}

func skipLogRecord(level, severity string) bool {
	_, levelSkip := skippedLevels[strings.ToLower(level)]
	_, severitySkip := skippedSeverities[strings.ToLower(severity)]
	return levelSkip && severitySkip
}

// logScore implements the level/severity ladder: fatal/critical -> 0.95,
// error/high -> 0.85, warn/medium -> 0.75, else -> 0.6.
func logScore(level, severity string) float64 {
	l := strings.ToLower(level)
	s := strings.ToLower(severity)
	switch {
	case l == "fatal" || l == "critical" || s == "critical":
		return 0.95
	case l == "error" || s == "high":
		return 0.85
	case l == "warn" || l == "warning" || s == "medium":
		return 0.75
	default:
		return 0.6
	}
}

// logRecord is the raw shape expected on logs.anomalous.
type logRecord struct {
	Level      string            `json:"level"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Service    string            `json:"service"`
	Host       string            `json:"host"`
	ShipID     string            `json:"ship_id"`
	DeviceID   string            `json:"device_id"`
	TrackingID string            `json:"tracking_id"`
	Metadata   map[string]string `json:"metadata"`
}

// Keyword sets classifying a log record's domain from its host or message,
// the same keyword-matching idiom logScore/isNormalOperational use. Checked
// system-before-net since a few terms (e.g. "bridge") could plausibly fit
// either and the shipboard-machinery reading is the more common one.
var systemDomainKeywords = []string{
	"engine", "coolant", "pump", "generator", "hvac", "bridge", "hull",
	"ballast", "fuel", "turbine", "boiler", "rudder", "propeller", "bilge",
}
var netDomainKeywords = []string{
	"satellite", "antenna", "modem", "router", "gateway", "network",
	"wifi", "switch", "vsat", "transponder", "uplink", "downlink",
}

// classifyLogDomain derives domain from the host and message content; it
// defaults to app when neither matches a known system/network term.
func classifyLogDomain(host, message string) string {
	haystack := strings.ToLower(host + " " + message)
	for _, kw := range systemDomainKeywords {
		if strings.Contains(haystack, kw) {
			return model.DomainSystem
		}
	}
	for _, kw := range netDomainKeywords {
		if strings.Contains(haystack, kw) {
			return model.DomainNet
		}
	}
	return model.DomainApp
}

// SubscribeLogPath registers the log-path handler for logs.anomalous under
// consumer group "anomaly-detector".
func (d *Detector) SubscribeLogPath(ctx context.Context) error {
	return d.gateway.Subscribe(ctx, bus.TopicLogsAnomalous, "anomaly-detector", d.handleLogRecord)
}

func (d *Detector) handleLogRecord(ctx context.Context, msg bus.Message) error {
	var rec logRecord
	if err := msg.Unmarshal(&rec); err != nil {
		logger.Warnf("anomaly detector: malformed log record, dropping: %v", err)
		return nil
	}

	if skipLogRecord(rec.Level, rec.Severity) || isNormalOperational(rec.Message) {
		return nil
	}

	shipID := rec.ShipID
	if shipID == "" {
		if mapping := d.registryClient.Lookup(ctx, rec.Host); mapping != nil {
			shipID = mapping.ShipID
		}
	}
	if shipID == "" {
		shipID = derivedShipID(rec.Host)
	}

	deviceID := rec.DeviceID
	if deviceID == "" {
		if mapping := d.registryClient.Lookup(ctx, rec.Host); mapping != nil {
			deviceID = mapping.DeviceID
		}
	}
	if deviceID == "" {
		deviceID = rec.Host
	}
	if deviceID == "" {
		deviceID = rec.Service
	}
	if deviceID == "" {
		deviceID = "unknown-device"
	}

	trackingID := rec.TrackingID
	if trackingID == "" {
		trackingID = uuid.NewString()
	}

	score := logScore(rec.Level, rec.Severity)
	event := model.NewAnomalyEvent(
		trackingID, shipID, rec.Service, classifyLogDomain(rec.Host, rec.Message),
		"log_pattern", "log_anomaly", 1.0, 0.7, score, "log_path",
	)
	event.DeviceID = deviceID
	event.RawMsg = rec.Message

	d.publish(ctx, event)
	return nil
}
