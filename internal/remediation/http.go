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

package remediation

import (
	"encoding/json"
	"net/http"
)

// RegisterRoutes mounts the action catalog, execute, execution-lookup, and
// rollback HTTP surface onto mux. Approval routes are mounted separately by
// ApprovalStore.RegisterRoutes since they carry their own JWT gate.
func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /actions", o.handleListActions)
	mux.HandleFunc("POST /execute/{action_id}", o.handleExecute)
	mux.HandleFunc("GET /executions/{id}", o.handleGetExecution)
	mux.HandleFunc("POST /rollback/{id}", o.handleRollback)
}

func (o *Orchestrator) handleListActions(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, o.catalog)
}

type executeRequest struct {
	DryRunOnly bool `json:"dry_run_only"`
}

func (o *Orchestrator) handleExecute(rw http.ResponseWriter, r *http.Request) {
	actionID := r.PathValue("action_id")
	action, ok := o.catalog[actionID]
	if !ok {
		http.Error(rw, "unknown action_id", http.StatusNotFound)
		return
	}

	var req executeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "malformed request body", http.StatusBadRequest)
			return
		}
	}

	recent := o.engine.RecentAttempts(actionID)
	decision := o.policy.Evaluate(r.Context(), actionID, action.RiskLevel, recent)
	if !decision.Allowed {
		http.Error(rw, "policy denied: "+decision.Reason, http.StatusForbidden)
		return
	}
	if decision.RequiresApproval || action.RequiresApproval {
		approval := o.approvals.Create(r.Context(), actionID, "")
		writeJSON(rw, http.StatusAccepted, approval)
		return
	}

	execution := o.engine.Execute(r.Context(), action, false, req.DryRunOnly)
	writeJSON(rw, http.StatusOK, execution)
}

func (o *Orchestrator) handleGetExecution(rw http.ResponseWriter, r *http.Request) {
	execution, ok := o.engine.Get(r.PathValue("id"))
	if !ok {
		http.Error(rw, "execution not found", http.StatusNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, execution)
}

func (o *Orchestrator) handleRollback(rw http.ResponseWriter, r *http.Request) {
	rollback, err := o.engine.Rollback(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(rw, http.StatusOK, rollback)
}
