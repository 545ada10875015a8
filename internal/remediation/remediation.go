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

// Package remediation implements component I: it selects a candidate action
// for an incoming incident, evaluates policy (external engine first,
// built-in rules on fallback), either requests human approval or executes
// the action dry-run-first, and exposes the action catalog, executions, and
// approvals over HTTP.
//
// An incident's own incident_severity and metadata carry everything the
// action-selection rule set needs (severity, a low-SNR or heavy-precipitation
// signal, the raw message); no separate link-health-alert topic exists on
// the bus, so incidents.created is the engine's only trigger.
package remediation

import (
	"context"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// Orchestrator wires the catalog, policy client, approval store, and
// execution engine into the decision pipeline described in §4.I.
type Orchestrator struct {
	catalog   map[string]model.RemediationAction
	policy    *PolicyClient
	approvals *ApprovalStore
	engine    *Engine
}

// New creates an Orchestrator over the default action catalog.
func New(policy *PolicyClient, approvals *ApprovalStore, engine *Engine) *Orchestrator {
	return &Orchestrator{
		catalog:   DefaultCatalog(),
		policy:    policy,
		approvals: approvals,
		engine:    engine,
	}
}

// Subscribe registers the incident-driven remediation handler under
// consumer group "remediation-engine".
func (o *Orchestrator) Subscribe(ctx context.Context, gateway bus.Gateway) error {
	return gateway.Subscribe(ctx, bus.TopicIncidentsCreated, "remediation-engine", o.handleIncident)
}

// rawIncident is the minimal view of incidents.created the action-selection
// rule set and policy evaluation need.
type rawIncident struct {
	IncidentID       string            `json:"incident_id"`
	IncidentSeverity string            `json:"incident_severity"`
	RawMsg           string            `json:"raw_msg,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

func (o *Orchestrator) handleIncident(ctx context.Context, msg bus.Message) error {
	var incident rawIncident
	if err := msg.Unmarshal(&incident); err != nil {
		logger.Warnf("remediation engine: malformed incident, dropping: %v", err)
		return nil
	}

	alert := Alert{
		Severity:    incident.IncidentSeverity,
		LowSNR:      incident.Metadata["low_snr"] == "true",
		HeavyPrecip: incident.Metadata["heavy_precip"] == "true",
		RawMessage:  incident.RawMsg,
	}

	actionType := SelectAction(alert)
	action, ok := o.catalog[actionType]
	if !ok {
		logger.Warnf("remediation engine: no catalog entry for selected action %s, dropping incident %s", actionType, incident.IncidentID)
		return nil
	}

	recent := o.engine.RecentAttempts(actionType)
	decision := o.policy.Evaluate(ctx, actionType, action.RiskLevel, recent)
	if !decision.Allowed {
		logger.Infof("remediation engine: policy denied %s for incident %s: %s", actionType, incident.IncidentID, decision.Reason)
		return nil
	}

	if decision.RequiresApproval || action.RequiresApproval {
		req := o.approvals.Create(ctx, actionType, incident.IncidentID)
		logger.Infof("remediation engine: %s for incident %s requires approval, request_id=%s", actionType, incident.IncidentID, req.RequestID)
		return nil
	}

	execution := o.engine.Execute(ctx, action, false, false)
	logger.Infof("remediation engine: executed %s for incident %s, execution_id=%s status=%s", actionType, incident.IncidentID, execution.ExecutionID, execution.Status)
	return nil
}

// ExecuteApproved carries out an action whose approval request has already
// been granted, skipping the policy re-evaluation (the decision to require
// approval already implied the action is otherwise permitted).
func (o *Orchestrator) ExecuteApproved(ctx context.Context, actionType string) (*model.RemediationExecution, bool) {
	action, ok := o.catalog[actionType]
	if !ok {
		return nil, false
	}
	return o.engine.Execute(ctx, action, false, false), true
}
