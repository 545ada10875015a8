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
	"strings"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// Action type identifiers, per §4.I's example catalog.
const (
	ActionSatelliteFailover    = "satellite_failover"
	ActionQoSShaping           = "qos_shaping"
	ActionBandwidthReduction   = "bandwidth_reduction"
	ActionAntennaRealignment   = "antenna_realignment"
	ActionPowerAdjustment      = "power_adjustment"
	ActionErrorCorrectionBoost = "error_correction_increase"
	ActionConfigRollback       = "config_rollback"
)

// DefaultCatalog returns the action catalog's example entries.
func DefaultCatalog() map[string]model.RemediationAction {
	return map[string]model.RemediationAction{
		ActionSatelliteFailover: {
			ActionID: ActionSatelliteFailover, ActionType: ActionSatelliteFailover,
			RiskLevel: model.RiskHigh, RequiresApproval: true,
			SupportsDryRun: true, SupportsRollback: true, MaxExecutionTime: 60 * time.Second,
		},
		ActionQoSShaping: {
			ActionID: ActionQoSShaping, ActionType: ActionQoSShaping,
			RiskLevel: model.RiskMedium, RequiresApproval: false,
			SupportsDryRun: true, SupportsRollback: true, MaxExecutionTime: 30 * time.Second,
		},
		ActionBandwidthReduction: {
			ActionID: ActionBandwidthReduction, ActionType: ActionBandwidthReduction,
			RiskLevel: model.RiskMedium, RequiresApproval: false,
			SupportsDryRun: true, SupportsRollback: true, MaxExecutionTime: 30 * time.Second,
		},
		ActionAntennaRealignment: {
			ActionID: ActionAntennaRealignment, ActionType: ActionAntennaRealignment,
			RiskLevel: model.RiskHigh, RequiresApproval: true,
			SupportsDryRun: true, SupportsRollback: false, MaxExecutionTime: 120 * time.Second,
		},
		ActionPowerAdjustment: {
			ActionID: ActionPowerAdjustment, ActionType: ActionPowerAdjustment,
			RiskLevel: model.RiskMedium, RequiresApproval: false,
			SupportsDryRun: true, SupportsRollback: true, MaxExecutionTime: 30 * time.Second,
		},
		ActionErrorCorrectionBoost: {
			ActionID: ActionErrorCorrectionBoost, ActionType: ActionErrorCorrectionBoost,
			RiskLevel: model.RiskLow, RequiresApproval: false,
			SupportsDryRun: true, SupportsRollback: true, MaxExecutionTime: 15 * time.Second,
		},
		ActionConfigRollback: {
			ActionID: ActionConfigRollback, ActionType: ActionConfigRollback,
			RiskLevel: model.RiskHigh, RequiresApproval: true,
			SupportsDryRun: true, SupportsRollback: false, MaxExecutionTime: 60 * time.Second,
		},
	}
}

// Alert is the minimal surface the action-selection rule set needs from an
// incident or a link-health alert.
type Alert struct {
	Severity    string
	LowSNR      bool
	HeavyPrecip bool
	RawMessage  string
}

// SelectAction implements §4.I step 1's small rule set on the incoming
// alert.
func SelectAction(a Alert) string {
	switch {
	case a.Severity == model.SeverityCritical && a.LowSNR:
		return ActionSatelliteFailover
	case a.HeavyPrecip:
		return ActionBandwidthReduction
	case strings.Contains(strings.ToLower(a.RawMessage), "config"):
		return ActionConfigRollback
	default:
		return ActionQoSShaping
	}
}
