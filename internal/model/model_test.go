package model_test

import (
	"testing"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnomalyEvent_ScoreAtLeastThreshold(t *testing.T) {
	e := model.NewAnomalyEvent("trk-1", "ship-1", "nav", model.DomainSystem, "statistical", "cpu_usage", 0.95, 0.7, 0.5, "zscore")
	assert.GreaterOrEqual(t, e.Score, e.Threshold)
	assert.Equal(t, 0.7, e.Score, "score below threshold must be clamped up to it")
}

func TestNewAnomalyEvent_ScoreAboveThresholdUnchanged(t *testing.T) {
	e := model.NewAnomalyEvent("trk-2", "ship-1", "nav", model.DomainSystem, "statistical", "cpu_usage", 0.95, 0.7, 0.9, "zscore")
	assert.Equal(t, 0.9, e.Score)
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, model.SeverityAtLeast(model.SeverityCritical, model.SeverityLow))
	assert.True(t, model.SeverityAtLeast(model.SeverityHigh, model.SeverityHigh))
	assert.False(t, model.SeverityAtLeast(model.SeverityLow, model.SeverityCritical))
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, model.SeverityHigh, model.MaxSeverity(model.SeverityLow, model.SeverityHigh))
	assert.Equal(t, model.SeverityCritical, model.MaxSeverity(model.SeverityCritical, model.SeverityMedium))
}

func newEnriched(trackingID string, score float64) model.EnrichedAnomalyEvent {
	return model.EnrichedAnomalyEvent{
		AnomalyEvent: model.NewAnomalyEvent(trackingID, "ship-1", "nav", model.DomainSystem, "statistical", "cpu_usage", 0.9, 0.7, score, "zscore"),
		MaritimeContext: model.MaritimeContext{
			OperationalStatus: model.OperationalStatusNormal,
		},
		CorrelationLevel: model.CorrelationLevel1Enriched,
	}
}

func TestNewIncident(t *testing.T) {
	first := newEnriched("trk-1", 0.8)
	inc := model.NewIncident("inc-1", "corr-1", first, "CPU_STARVATION")

	require.Len(t, inc.CorrelatedEvents, 1)
	assert.Equal(t, model.IncidentStatusOpen, inc.Status)
	assert.Equal(t, model.SeverityLow, inc.IncidentSeverity)
	assert.Equal(t, "trk-1", inc.TrackingID)
	require.Len(t, inc.Timeline, 1)
	assert.Equal(t, "incident_created", inc.Timeline[0].Event)
}

func TestIncident_AddEvent_DedupByTrackingID(t *testing.T) {
	first := newEnriched("trk-1", 0.8)
	inc := model.NewIncident("inc-1", "corr-1", first, "CPU_STARVATION")

	inc.AddEvent(first)
	assert.Len(t, inc.CorrelatedEvents, 1, "re-adding the same tracking_id must not duplicate")

	inc.AddEvent(newEnriched("trk-2", 0.6))
	assert.Len(t, inc.CorrelatedEvents, 2)
}

func TestIncident_AddEvent_TracksHighestScore(t *testing.T) {
	first := newEnriched("trk-1", 0.6)
	inc := model.NewIncident("inc-1", "corr-1", first, "CPU_STARVATION")

	inc.AddEvent(newEnriched("trk-2", 0.95))
	assert.Equal(t, 0.95, inc.AnomalyScore)
}

func TestIncident_Escalate_NeverDecreases(t *testing.T) {
	first := newEnriched("trk-1", 0.6)
	inc := model.NewIncident("inc-1", "corr-1", first, "CPU_STARVATION")
	inc.Escalate(model.SeverityHigh)
	assert.Equal(t, model.SeverityHigh, inc.IncidentSeverity)

	inc.Escalate(model.SeverityLow)
	assert.Equal(t, model.SeverityHigh, inc.IncidentSeverity, "escalation must never regress severity")

	inc.Escalate(model.SeverityCritical)
	assert.Equal(t, model.SeverityCritical, inc.IncidentSeverity)
}

func TestIncident_TimelineAppendOnly(t *testing.T) {
	first := newEnriched("trk-1", 0.6)
	inc := model.NewIncident("inc-1", "corr-1", first, "CPU_STARVATION")

	before := len(inc.Timeline)
	inc.SetStatus(model.IncidentStatusAcknowledged, "operator")
	assert.Equal(t, before+1, len(inc.Timeline))
	assert.Equal(t, model.IncidentStatusAcknowledged, inc.Status)
	assert.Equal(t, "status_changed", inc.Timeline[len(inc.Timeline)-1].Event)
}

func TestApprovalRequest_Expired(t *testing.T) {
	req := &model.ApprovalRequest{
		RequestID:  "req-1",
		Status:     model.ApprovalPending,
		ExpiryTime: time.Now().Add(-time.Minute),
	}
	assert.True(t, req.Expired(time.Now()))

	req.Status = model.ApprovalApproved
	assert.False(t, req.Expired(time.Now()), "a decided request is never reported as expired")
}

func TestRemediationExecution_AppendLog(t *testing.T) {
	exec := &model.RemediationExecution{ExecutionID: "exec-1", ActionID: "restart_service"}
	exec.AppendLog("starting dry run")
	exec.AppendLog("dry run complete")
	assert.Equal(t, []string{"starting dry run", "dry run complete"}, exec.Logs)
}
