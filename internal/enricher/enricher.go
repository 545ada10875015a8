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

// Package enricher implements component F's two-stage enrichment: the
// first stage attaches device/ship/weather/operational-status context and
// records the operational status in the internal/opcontext Store it is given
// (read by an anomaly detector only when both share that Store in one
// process); the second stage adds a risk score and grouping
// analysis, either from an external enhancement endpoint or a deterministic
// rule-based fallback. The enricher is stateless except for the device
// registry cache each client already maintains.
package enricher

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metricsstore"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/opcontext"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/registry"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/weather"
)

// enhancementTimeout bounds the optional external enhancement call, per
// §4.F's "timeout (<= 10s)".
const enhancementTimeout = 10 * time.Second

// Keywords whose presence in raw_msg escalate the fallback scorer, per
// §4.F's deterministic rule-based scorer.
var criticalKeywords = []string{"engine", "navigation", "communication", "power", "safety"}

// Enricher wires the first- and second-stage handlers onto the bus.
type Enricher struct {
	registryClient *registry.Client
	weatherClient  *weather.Client
	metricsStore   *metricsstore.Client
	opctx          *opcontext.Store
	gateway        bus.Gateway
	metrics        *metrics.PipelineMetrics

	enhancementURL string
	httpClient     *http.Client
}

// New creates an Enricher. enhancementURL may be empty, in which case the
// second stage always falls back to the deterministic scorer.
func New(registryClient *registry.Client, weatherClient *weather.Client, metricsStore *metricsstore.Client, opctx *opcontext.Store, gateway bus.Gateway, enhancementURL string) *Enricher {
	return &Enricher{
		registryClient: registryClient,
		weatherClient:  weatherClient,
		metricsStore:   metricsStore,
		opctx:          opctx,
		gateway:        gateway,
		metrics:        metrics.New(),
		enhancementURL: enhancementURL,
		httpClient:     &http.Client{Timeout: enhancementTimeout},
	}
}

// Subscribe registers both enrichment stages under consumer group
// "enricher".
func (e *Enricher) Subscribe(ctx context.Context) error {
	if err := e.gateway.Subscribe(ctx, bus.TopicAnomalyDetected, "enricher", e.handleFirstStage); err != nil {
		return err
	}
	return e.gateway.Subscribe(ctx, bus.TopicAnomalyDetectedEnriched, "enricher", e.handleSecondStage)
}

func (e *Enricher) handleFirstStage(ctx context.Context, msg bus.Message) error {
	var event model.AnomalyEvent
	if err := msg.Unmarshal(&event); err != nil {
		logger.Warnf("enricher: malformed anomaly event, dropping: %v", err)
		return nil
	}

	enriched := e.enrichFirstStage(ctx, event)

	if err := e.gateway.Publish(ctx, bus.TopicAnomalyDetectedEnriched, enriched.TrackingID, enriched); err != nil {
		logger.Warnf("enricher: publish of first-stage enrichment failed for tracking_id=%s, dropping: %v", enriched.TrackingID, err)
		return nil
	}
	e.metrics.RecordEventEnriched(enriched.ShipID, "level_1")
	return nil
}

func (e *Enricher) enrichFirstStage(ctx context.Context, event model.AnomalyEvent) model.EnrichedAnomalyEvent {
	var sources []string
	deviceContext := make(map[string]string)
	weatherImpact := make(map[string]string)
	systemLoad := make(map[string]string)

	if mapping := e.registryClient.Lookup(ctx, event.DeviceID); mapping != nil {
		deviceContext["ship_id"] = mapping.ShipID
		deviceContext["device_id"] = mapping.DeviceID
		sources = append(sources, "device_registry")
	}

	conditions, err := e.weatherClient.Current(ctx, event.ShipID)
	weatherImpacted := false
	if err != nil {
		logger.Warnf("enricher: weather lookup failed for ship_id=%s: %v", event.ShipID, err)
	} else {
		weatherImpact["wind_speed_knots"] = formatFloat(conditions.WindSpeedKnots)
		weatherImpact["wave_height_m"] = formatFloat(conditions.WaveHeightM)
		weatherImpact["rain_rate_mm_h"] = formatFloat(conditions.RainRateMMH)
		weatherImpacted = conditions.Impacted()
		sources = append(sources, "weather_service")
	}

	degradedComms := e.degradedComms(ctx, event.ShipID)
	systemOverloaded := e.systemOverloaded(ctx, event.ShipID)
	if degradedComms || systemOverloaded {
		systemLoad["degraded_comms"] = formatBool(degradedComms)
		systemLoad["system_overloaded"] = formatBool(systemOverloaded)
		sources = append(sources, "metrics_store")
	}

	operationalStatus := classifyOperationalStatus(weatherImpacted, degradedComms, systemOverloaded)

	e.opctx.Set(event.ShipID, opcontext.Snapshot{
		OperationalStatus: operationalStatus,
		RainRateMMH:       conditions.RainRateMMH,
	})

	return model.EnrichedAnomalyEvent{
		AnomalyEvent: event,
		EnrichmentContext: model.EnrichmentContext{
			DeviceContext: deviceContext,
			WeatherImpact: weatherImpact,
			SystemLoad:    systemLoad,
		},
		MaritimeContext: model.MaritimeContext{
			OperationalStatus: operationalStatus,
		},
		CorrelationLevel: model.CorrelationLevel1Enriched,
		ContextSources:   sources,
	}
}

// classifyOperationalStatus applies §4.F's rule precedence: weather first,
// then comms degradation, then system overload.
func classifyOperationalStatus(weatherImpacted, degradedComms, systemOverloaded bool) string {
	switch {
	case weatherImpacted:
		return model.OperationalStatusWeatherImpacted
	case degradedComms:
		return model.OperationalStatusDegradedComms
	case systemOverloaded:
		return model.OperationalStatusSystemOverloaded
	default:
		return model.OperationalStatusNormal
	}
}

// degradedComms reports whether the ship's recent packet loss or network
// latency readings are high enough to classify as comms degradation.
func (e *Enricher) degradedComms(ctx context.Context, shipID string) bool {
	loss, err := e.metricsStore.Instant(ctx, "packet_loss")
	if err == nil {
		for _, r := range loss {
			if r.Labels["ship_id"] == shipID && r.Value > 5 {
				return true
			}
		}
	}

	latency, err := e.metricsStore.Instant(ctx, "network_latency")
	if err == nil {
		for _, r := range latency {
			if r.Labels["ship_id"] == shipID && r.Value > 300 {
				return true
			}
		}
	}
	return false
}

// systemOverloaded reports whether the ship's cpu and memory usage are both
// above 80, per §4.F.
func (e *Enricher) systemOverloaded(ctx context.Context, shipID string) bool {
	cpuHigh := e.anyAbove(ctx, "cpu_usage", shipID, 80)
	memHigh := e.anyAbove(ctx, "memory_usage", shipID, 80)
	return cpuHigh && memHigh
}

func (e *Enricher) anyAbove(ctx context.Context, metric, shipID string, threshold float64) bool {
	results, err := e.metricsStore.Instant(ctx, metric)
	if err != nil {
		return false
	}
	for _, r := range results {
		if r.Labels["ship_id"] == shipID && r.Value > threshold {
			return true
		}
	}
	return false
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
func formatBool(b bool) string     { return strconv.FormatBool(b) }

func (e *Enricher) handleSecondStage(ctx context.Context, msg bus.Message) error {
	var enriched model.EnrichedAnomalyEvent
	if err := msg.Unmarshal(&enriched); err != nil {
		logger.Warnf("enricher: malformed first-stage event, dropping: %v", err)
		return nil
	}
	// Avoid re-processing our own second-stage output if a consumer group
	// ever shares this topic with the first-stage handler.
	if enriched.CorrelationLevel == model.CorrelationLevel2Enhanced {
		return nil
	}

	final := e.enrichSecondStage(ctx, enriched)

	if err := e.gateway.Publish(ctx, bus.TopicAnomalyDetectedEnrichedFinal, final.TrackingID, final); err != nil {
		logger.Warnf("enricher: publish of final enrichment failed for tracking_id=%s, dropping: %v", final.TrackingID, err)
		return nil
	}
	e.metrics.RecordEventEnriched(final.ShipID, "level_2")
	return nil
}

func (e *Enricher) enrichSecondStage(ctx context.Context, enriched model.EnrichedAnomalyEvent) model.EnrichedAnomalyEvent {
	analysis, ok := e.callEnhancementEndpoint(ctx, enriched)
	if !ok {
		analysis = e.fallbackScore(enriched)
	}
	analysis.GroupingHints = e.groupingAnalysis(ctx, enriched)

	enriched.EnrichmentContext.AIAnalysis = &analysis
	enriched.CorrelationLevel = model.CorrelationLevel2Enhanced
	return enriched
}

type enhancementRequest struct {
	Event   model.AnomalyEvent     `json:"event"`
	Context model.MaritimeContext  `json:"context"`
}

type enhancementResponse struct {
	EnhancedScore   float64  `json:"enhanced_score"`
	RiskLevel       string   `json:"risk_level"`
	Urgency         string   `json:"urgency"`
	Recommendations []string `json:"recommendations"`
	SystemImpact    string   `json:"system_impact"`
}

// callEnhancementEndpoint posts to the external enhancement endpoint if one
// is configured, returning ok=false on any timeout or error so the caller
// falls back to the deterministic scorer.
func (e *Enricher) callEnhancementEndpoint(ctx context.Context, enriched model.EnrichedAnomalyEvent) (model.AIAnalysis, bool) {
	if e.enhancementURL == "" {
		return model.AIAnalysis{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, enhancementTimeout)
	defer cancel()

	body, err := json.Marshal(enhancementRequest{Event: enriched.AnomalyEvent, Context: enriched.MaritimeContext})
	if err != nil {
		return model.AIAnalysis{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.enhancementURL, strings.NewReader(string(body)))
	if err != nil {
		return model.AIAnalysis{}, false
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	e.metrics.RecordDependencyCall("enhancement", time.Since(start))
	if err != nil {
		logger.Warnf("enricher: enhancement endpoint call failed, falling back: %v", err)
		return model.AIAnalysis{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnf("enricher: enhancement endpoint returned %d, falling back", resp.StatusCode)
		return model.AIAnalysis{}, false
	}

	var out enhancementResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		logger.Warnf("enricher: enhancement endpoint response malformed, falling back: %v", err)
		return model.AIAnalysis{}, false
	}

	return model.AIAnalysis{
		RiskScore:   out.EnhancedScore,
		RiskLevel:   out.RiskLevel,
		Explanation: out.Urgency,
	}, true
}

// fallbackScore implements §4.F's deterministic rule-based scorer.
func (e *Enricher) fallbackScore(enriched model.EnrichedAnomalyEvent) model.AIAnalysis {
	score := enriched.Score

	switch enriched.MaritimeContext.OperationalStatus {
	case model.OperationalStatusCriticalOperations:
		score *= 1.3
	case model.OperationalStatusWeatherImpacted, model.OperationalStatusDegradedComms, model.OperationalStatusSystemOverloaded:
		score *= 1.1
	}

	lowerMsg := strings.ToLower(enriched.RawMsg)
	for _, kw := range criticalKeywords {
		if strings.Contains(lowerMsg, kw) {
			score *= 1.2
			break
		}
	}

	if score > 1 {
		score = 1
	}

	return model.AIAnalysis{
		RiskScore:       score,
		RiskLevel:       riskLevel(score),
		FallbackApplied: true,
	}
}

// riskLevel implements §4.F's risk ladder: >0.8 critical, >0.6 high,
// >0.4 medium, else low.
func riskLevel(score float64) string {
	switch {
	case score > 0.8:
		return model.SeverityCritical
	case score > 0.6:
		return model.SeverityHigh
	case score > 0.4:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// groupingAnalysis computes a simple temporal_pattern/source_correlation/
// historical_patterns summary from historical correlation patterns.
func (e *Enricher) groupingAnalysis(ctx context.Context, enriched model.EnrichedAnomalyEvent) map[string]string {
	patterns, err := e.metricsStore.CorrelationPatterns(ctx, enriched.MetricName, enriched.ShipID, enriched.Score)
	if err != nil {
		return map[string]string{"historical_patterns": "0"}
	}

	distinctShips := make(map[string]struct{})
	for _, p := range patterns {
		distinctShips[p.ShipID] = struct{}{}
	}

	temporalPattern := "isolated"
	if len(patterns) > 3 {
		temporalPattern = "recurring"
	}

	return map[string]string{
		"temporal_pattern":    temporalPattern,
		"source_correlation":  itoa(len(distinctShips)),
		"historical_patterns": itoa(len(patterns)),
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
