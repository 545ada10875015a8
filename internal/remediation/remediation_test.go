package remediation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, bus.Gateway) {
	t.Helper()
	gateway := bus.NewInMemoryGateway()
	policy := NewPolicyClient("", "")
	approvals := NewApprovalStore(time.Hour, gateway, testJWTSecret)
	engine := NewEngine(time.Hour)
	return New(policy, approvals, engine), gateway
}

func incidentMessage(t *testing.T, fields map[string]interface{}) bus.Message {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	id, _ := fields["incident_id"].(string)
	return bus.Message{Topic: bus.TopicIncidentsCreated, TrackingID: id, Payload: body}
}

func TestHandleIncident_AutoExecutesLowRiskAction(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	msg := incidentMessage(t, map[string]interface{}{
		"incident_id":       "inc-1",
		"incident_severity": "low",
	})

	require.NoError(t, o.handleIncident(context.Background(), msg))
	assert.Equal(t, 1, o.engine.RecentAttempts(ActionQoSShaping))
}

func TestHandleIncident_CriticalLowSNRCreatesApprovalInsteadOfExecuting(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	msg := incidentMessage(t, map[string]interface{}{
		"incident_id":       "inc-2",
		"incident_severity": model.SeverityCritical,
		"metadata":          map[string]string{"low_snr": "true"},
	})

	require.NoError(t, o.handleIncident(context.Background(), msg))
	assert.Equal(t, 0, o.engine.RecentAttempts(ActionSatelliteFailover))
	assert.Len(t, o.approvals.List(), 1)
}

func TestHandleIncident_MalformedPayloadIsDroppedNotErrored(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	msg := bus.Message{Topic: bus.TopicIncidentsCreated, TrackingID: "bad", Payload: []byte("not json")}
	assert.NoError(t, o.handleIncident(context.Background(), msg))
}

func TestHTTPRoutes_ActionsExecuteAndRollback(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	mux := http.NewServeMux()
	o.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/actions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	execResp, err := http.Post(srv.URL+"/execute/"+ActionQoSShaping, "application/json", nil)
	require.NoError(t, err)
	defer execResp.Body.Close()
	assert.Equal(t, http.StatusOK, execResp.StatusCode)

	var execution model.RemediationExecution
	require.NoError(t, json.NewDecoder(execResp.Body).Decode(&execution))
	assert.Equal(t, model.ExecutionCompleted, execution.Status)

	getResp, err := http.Get(srv.URL + "/executions/" + execution.ExecutionID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	rollbackResp, err := http.Post(srv.URL+"/rollback/"+execution.ExecutionID, "application/json", nil)
	require.NoError(t, err)
	defer rollbackResp.Body.Close()
	assert.Equal(t, http.StatusOK, rollbackResp.StatusCode)
}

func TestHTTPRoutes_ExecuteHighRiskActionReturnsApproval(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	mux := http.NewServeMux()
	o.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/execute/"+ActionSatelliteFailover, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHTTPRoutes_ExecuteUnknownActionReturns404(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	mux := http.NewServeMux()
	o.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/execute/does-not-exist", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
