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

// Package model defines the domain entities shared by every component of the
// anomaly pipeline: the events flowing across the bus, the incidents they
// fold into, and the remediation actions incidents can trigger. Each type is
// immutable once published except where its owning component is explicitly
// allowed to mutate it (Incident timeline/status by the incident writer,
// RemediationExecution by the remediation engine).
package model

import "time"

// Domain values for AnomalyEvent.Domain.
const (
	DomainSystem = "system"
	DomainNet    = "net"
	DomainApp    = "app"
)

// Operational status values for MaritimeContext.OperationalStatus.
const (
	OperationalStatusNormal             = "normal"
	OperationalStatusWeatherImpacted    = "weather_impacted"
	OperationalStatusDegradedComms      = "degraded_comms"
	OperationalStatusSystemOverloaded   = "system_overloaded"
	OperationalStatusCriticalOperations = "critical_operations"
)

// Correlation levels for EnrichedAnomalyEvent.CorrelationLevel.
const (
	CorrelationLevel1Enriched = "level_1_enriched"
	CorrelationLevel2Enhanced = "level_2_enhanced"
)

// Incident severities, ordered low to critical; severityRank below encodes
// the escalation ordering the correlator enforces.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// severityRank orders severities for the correlator's monotonic-escalation
// invariant; higher rank never regresses to a lower one on the same incident.
var severityRank = map[string]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// SeverityAtLeast reports whether a is the same as or more severe than b.
func SeverityAtLeast(a, b string) bool {
	return severityRank[a] >= severityRank[b]
}

// MaxSeverity returns whichever of a, b ranks higher; unknown values rank
// below every known severity.
func MaxSeverity(a, b string) string {
	rankA, okA := severityRank[a]
	if !okA {
		rankA = -1
	}
	rankB, okB := severityRank[b]
	if !okB {
		rankB = -1
	}
	if rankA >= rankB {
		return a
	}
	return b
}

// Incident lifecycle statuses.
const (
	IncidentStatusOpen          = "open"
	IncidentStatusAcknowledged  = "acknowledged"
	IncidentStatusInvestigating = "investigating"
	IncidentStatusResolved      = "resolved"
	IncidentStatusClosed        = "closed"
)

// Remediation risk levels, shared by RemediationAction and execution policy.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// ApprovalRequest statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalExpired  = "expired"
)

// RemediationExecution statuses.
const (
	ExecutionQueued     = "queued"
	ExecutionDryRun     = "dry_run"
	ExecutionExecuting  = "executing"
	ExecutionCompleted  = "completed"
	ExecutionFailed     = "failed"
	ExecutionRolledBack = "rolled_back"
)

// AnomalyEvent is emitted by the anomaly detector onto anomaly.detected.
// Invariant: Score must be >= Threshold at the moment of construction; use
// NewAnomalyEvent rather than a bare struct literal to enforce it.
type AnomalyEvent struct {
	TrackingID  string            `json:"tracking_id"`
	Timestamp   time.Time         `json:"timestamp"`
	ShipID      string            `json:"ship_id"`
	DeviceID    string            `json:"device_id,omitempty"`
	Service     string            `json:"service"`
	Domain      string            `json:"domain"`
	AnomalyType string            `json:"anomaly_type"`
	MetricName  string            `json:"metric_name"`
	MetricValue float64           `json:"metric_value"`
	Threshold   float64           `json:"threshold"`
	Score       float64           `json:"score"`
	Detector    string            `json:"detector"`
	RawMsg      string            `json:"raw_msg,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// NewAnomalyEvent builds an AnomalyEvent, raising Score up to Threshold if
// a caller ever computes a combined score below it — emission must never
// violate the score >= threshold invariant.
func NewAnomalyEvent(trackingID, shipID, service, domain, anomalyType, metricName string, metricValue, threshold, score float64, detector string) AnomalyEvent {
	if score < threshold {
		score = threshold
	}
	return AnomalyEvent{
		TrackingID:  trackingID,
		Timestamp:   time.Now().UTC(),
		ShipID:      shipID,
		Service:     service,
		Domain:      domain,
		AnomalyType: anomalyType,
		MetricName:  metricName,
		MetricValue: metricValue,
		Threshold:   threshold,
		Score:       score,
		Detector:    detector,
		Meta:        make(map[string]string),
	}
}

// EnrichmentContext carries the per-event context attached by the enricher's
// first stage, plus the optional second-stage AI analysis.
type EnrichmentContext struct {
	DeviceContext map[string]string `json:"device_context,omitempty"`
	WeatherImpact map[string]string `json:"weather_impact,omitempty"`
	SystemLoad    map[string]string `json:"system_load,omitempty"`
	AIAnalysis    *AIAnalysis       `json:"ai_analysis,omitempty"`
}

// AIAnalysis is the optional second-stage enhancement result, produced by an
// external enhancement endpoint or its deterministic rule-based fallback.
type AIAnalysis struct {
	RiskScore       float64           `json:"risk_score"`
	RiskLevel       string            `json:"risk_level"`
	Explanation     string            `json:"explanation,omitempty"`
	GroupingHints   map[string]string `json:"grouping_hints,omitempty"`
	FallbackApplied bool              `json:"fallback_applied"`
}

// MaritimeContext describes the vessel's operating condition at enrichment
// time, used to widen thresholds and to classify severity downstream.
type MaritimeContext struct {
	OperationalStatus string `json:"operational_status"`
	Route             string `json:"route,omitempty"`
	Location          string `json:"location,omitempty"`
}

// EnrichedAnomalyEvent is emitted by the enricher onto
// anomaly.detected.enriched (level 1) or anomaly.detected.enriched.final
// (level 2). Invariant: TrackingID equals the originating AnomalyEvent's.
type EnrichedAnomalyEvent struct {
	AnomalyEvent
	EnrichmentContext EnrichmentContext `json:"enrichment_context"`
	MaritimeContext   MaritimeContext   `json:"maritime_context"`
	CorrelationLevel  string            `json:"correlation_level"`
	ContextSources    []string          `json:"context_sources,omitempty"`
}

// EventSummary is the compact projection of an EnrichedAnomalyEvent an
// Incident keeps in its correlated_events list.
type EventSummary struct {
	TrackingID  string    `json:"tracking_id"`
	Timestamp   time.Time `json:"timestamp"`
	MetricName  string    `json:"metric_name"`
	MetricValue float64   `json:"metric_value"`
	Score       float64   `json:"score"`
	Detector    string    `json:"detector"`
}

// SummaryFrom projects an EnrichedAnomalyEvent into its EventSummary.
func SummaryFrom(e EnrichedAnomalyEvent) EventSummary {
	return EventSummary{
		TrackingID:  e.TrackingID,
		Timestamp:   e.Timestamp,
		MetricName:  e.MetricName,
		MetricValue: e.MetricValue,
		Score:       e.Score,
		Detector:    e.Detector,
	}
}

// TimelineEntry is one append-only record in an Incident's timeline.
type TimelineEntry struct {
	Timestamp   time.Time         `json:"timestamp"`
	Event       string            `json:"event"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Incident is emitted by the correlator and persisted/mutated by the
// incident writer. Status, Acknowledged and Timeline are the only fields H
// mutates once an incident is stored; CorrelatedEvents is deduplicated by tracking_id and Severity is
// monotonically non-decreasing as events are folded in.
type Incident struct {
	IncidentID       string            `json:"incident_id"`
	CorrelationID    string            `json:"correlation_id"`
	TrackingID       string            `json:"tracking_id"`
	IncidentType     string            `json:"incident_type"`
	IncidentSeverity string            `json:"incident_severity"`
	ShipID           string            `json:"ship_id"`
	Service          string            `json:"service"`
	MetricName       string            `json:"metric_name"`
	MetricValue      float64           `json:"metric_value"`
	AnomalyScore     float64           `json:"anomaly_score"`
	Detector         string            `json:"detector"`
	Status           string            `json:"status"`
	Acknowledged     bool              `json:"acknowledged"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CorrelatedEvents []EventSummary    `json:"correlated_events"`
	Timeline         []TimelineEntry   `json:"timeline"`
	SuggestedRunbooks []string         `json:"suggested_runbooks,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// NewIncident scaffolds a new open Incident from its first contributing
// event.
func NewIncident(incidentID, correlationID string, first EnrichedAnomalyEvent, incidentType string) *Incident {
	now := time.Now().UTC()
	inc := &Incident{
		IncidentID:       incidentID,
		CorrelationID:    correlationID,
		TrackingID:       first.TrackingID,
		IncidentType:     incidentType,
		IncidentSeverity: SeverityLow,
		ShipID:           first.ShipID,
		Service:          first.Service,
		MetricName:       first.MetricName,
		MetricValue:      first.MetricValue,
		AnomalyScore:     first.Score,
		Detector:         first.Detector,
		Status:           IncidentStatusOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
		CorrelatedEvents: []EventSummary{},
		Timeline:         []TimelineEntry{},
		Metadata:         make(map[string]string),
	}
	inc.AddEvent(first)
	inc.AppendTimeline("incident_created", "first contributing anomaly correlated", "correlator")
	return inc
}

// AddEvent folds another contributing event in, deduplicating by
// tracking_id and keeping AnomalyScore/MetricValue pinned to the most severe
// contributor seen so far.
func (i *Incident) AddEvent(e EnrichedAnomalyEvent) {
	for _, existing := range i.CorrelatedEvents {
		if existing.TrackingID == e.TrackingID {
			return
		}
	}
	i.CorrelatedEvents = append(i.CorrelatedEvents, SummaryFrom(e))
	if e.Score > i.AnomalyScore {
		i.AnomalyScore = e.Score
		i.MetricValue = e.MetricValue
	}
	i.UpdatedAt = time.Now().UTC()
}

// Escalate raises IncidentSeverity to the more severe of its current value
// and newSeverity; it never lowers severity.
func (i *Incident) Escalate(newSeverity string) {
	i.IncidentSeverity = MaxSeverity(i.IncidentSeverity, newSeverity)
	i.UpdatedAt = time.Now().UTC()
}

// AppendTimeline appends an entry to the incident's append-only timeline.
func (i *Incident) AppendTimeline(event, description, source string) {
	i.Timeline = append(i.Timeline, TimelineEntry{
		Timestamp:   time.Now().UTC(),
		Event:       event,
		Description: description,
		Source:      source,
	})
	i.UpdatedAt = time.Now().UTC()
}

// SetStatus transitions Status and records the transition on the timeline.
func (i *Incident) SetStatus(status, source string) {
	i.Status = status
	i.AppendTimeline("status_changed", status, source)
}

// RemediationAction describes one entry in the remediation engine's action
// catalog.
type RemediationAction struct {
	ActionID         string            `json:"action_id"`
	ActionType       string            `json:"action_type"`
	RiskLevel        string            `json:"risk_level"`
	RequiresApproval bool              `json:"requires_approval"`
	SupportsDryRun   bool              `json:"supports_dry_run"`
	SupportsRollback bool              `json:"supports_rollback"`
	MaxExecutionTime time.Duration     `json:"max_execution_time"`
	Parameters       map[string]string `json:"parameters,omitempty"`
}

// ApprovalRequest tracks a pending human approval for a high-risk action.
type ApprovalRequest struct {
	RequestID         string    `json:"request_id"`
	Action            string    `json:"action"`
	TriggerIncidentID string    `json:"trigger_incident_id"`
	Status            string    `json:"status"`
	ExpiryTime        time.Time `json:"expiry_time"`
	Approver          string    `json:"approver,omitempty"`
}

// Expired reports whether the request has passed its expiry time without
// being decided.
func (a *ApprovalRequest) Expired(now time.Time) bool {
	return a.Status == ApprovalPending && now.After(a.ExpiryTime)
}

// RemediationExecution tracks one attempt (dry-run or real) to carry out a
// RemediationAction. Logs is append-only; RollbackData is populated only
// when the action supports rollback and the execution succeeded for real.
type RemediationExecution struct {
	ExecutionID   string            `json:"execution_id"`
	ActionID      string            `json:"action_id"`
	Status        string            `json:"status"`
	DryRun        bool              `json:"dry_run"`
	Results       map[string]string `json:"results,omitempty"`
	Logs          []string          `json:"logs"`
	RollbackData  map[string]string `json:"rollback_data,omitempty"`
	ExecutionTime time.Duration     `json:"execution_time"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

// AppendLog appends a line to the execution's append-only log.
func (r *RemediationExecution) AppendLog(line string) {
	r.Logs = append(r.Logs, line)
}

// DeviceMapping is the device registry's resolved identity for a hostname
// or IP, cached by the client with a TTL.
type DeviceMapping struct {
	ShipID     string `json:"ship_id"`
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	Location   string `json:"location"`
}
