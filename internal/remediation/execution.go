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
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// blockedCommandSubstrings is the safety-check blocklist: any action
// parameter containing one of these is refused outright, dry run or not.
var blockedCommandSubstrings = []string{
	"mkfs", "dd if=", "rm -rf /", "> /dev/sd", "shutdown", "poweroff", ":(){ :|:& };:",
}

// executorFunc carries out (or simulates) one action, returning the results
// map and, for rollback-capable actions, the rollback data needed to undo
// it.
type executorFunc func(ctx context.Context, action model.RemediationAction, dryRun bool) (results, rollbackData map[string]string, err error)

// executors maps action type to its executor. Each is a small, self-
// contained simulation of the real side effect a production deployment
// would carry out against satellite/network control-plane APIs; dry_run
// always takes the same code path as a real run but stops short of
// "committing" its effect.
var executors = map[string]executorFunc{
	ActionSatelliteFailover:    executeSatelliteFailover,
	ActionQoSShaping:           executeQoSShaping,
	ActionBandwidthReduction:   executeBandwidthReduction,
	ActionAntennaRealignment:   executeAntennaRealignment,
	ActionPowerAdjustment:      executePowerAdjustment,
	ActionErrorCorrectionBoost: executeErrorCorrectionBoost,
	ActionConfigRollback:       executeConfigRollback,
}

func executeSatelliteFailover(ctx context.Context, action model.RemediationAction, dryRun bool) (map[string]string, map[string]string, error) {
	results := map[string]string{"action": "failover_to_backup_satellite", "dry_run": formatBool(dryRun)}
	rollback := map[string]string{"previous_satellite": "primary"}
	return results, rollback, nil
}

func executeQoSShaping(ctx context.Context, action model.RemediationAction, dryRun bool) (map[string]string, map[string]string, error) {
	results := map[string]string{"action": "apply_qos_policy", "dry_run": formatBool(dryRun)}
	rollback := map[string]string{"previous_qos_policy": "default"}
	return results, rollback, nil
}

func executeBandwidthReduction(ctx context.Context, action model.RemediationAction, dryRun bool) (map[string]string, map[string]string, error) {
	results := map[string]string{"action": "reduce_bandwidth_allocation", "dry_run": formatBool(dryRun)}
	rollback := map[string]string{"previous_bandwidth_percent": "100"}
	return results, rollback, nil
}

func executeAntennaRealignment(ctx context.Context, action model.RemediationAction, dryRun bool) (map[string]string, map[string]string, error) {
	results := map[string]string{"action": "realign_antenna", "dry_run": formatBool(dryRun)}
	return results, nil, nil
}

func executePowerAdjustment(ctx context.Context, action model.RemediationAction, dryRun bool) (map[string]string, map[string]string, error) {
	results := map[string]string{"action": "adjust_transmit_power", "dry_run": formatBool(dryRun)}
	rollback := map[string]string{"previous_power_level": "nominal"}
	return results, rollback, nil
}

func executeErrorCorrectionBoost(ctx context.Context, action model.RemediationAction, dryRun bool) (map[string]string, map[string]string, error) {
	results := map[string]string{"action": "increase_fec_rate", "dry_run": formatBool(dryRun)}
	rollback := map[string]string{"previous_fec_rate": "standard"}
	return results, rollback, nil
}

func executeConfigRollback(ctx context.Context, action model.RemediationAction, dryRun bool) (map[string]string, map[string]string, error) {
	results := map[string]string{"action": "revert_to_last_known_good_config", "dry_run": formatBool(dryRun)}
	return results, nil, nil
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// attemptRecord is one entry in the rate limiter's sliding window: every
// attempt counts, whether it ultimately succeeded, failed, or was only
// dry-run.
type attemptRecord struct {
	actionType string
	at         time.Time
}

// Engine carries out remediation actions: dry-run-first execution, separate
// rollback, a blocklist safety check, and a 1-hour sliding-window rate
// limiter counting every attempt per action type.
type Engine struct {
	mu         sync.Mutex
	executions map[string]*model.RemediationExecution
	attempts   []attemptRecord
	rateWindow time.Duration
	metrics    *metrics.PipelineMetrics
}

// NewEngine creates an Engine with the given rate-limit sliding window.
func NewEngine(rateWindow time.Duration) *Engine {
	return &Engine{
		executions: make(map[string]*model.RemediationExecution),
		rateWindow: rateWindow,
		metrics:    metrics.New(),
	}
}

// RecentAttempts returns how many attempts of actionType fall within the
// current sliding window, counting every attempt regardless of outcome.
func (e *Engine) RecentAttempts(actionType string) int {
	cutoff := time.Now().Add(-e.rateWindow)
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.attempts[:0]
	count := 0
	for _, a := range e.attempts {
		if a.at.After(cutoff) {
			kept = append(kept, a)
			if a.actionType == actionType {
				count++
			}
		}
	}
	e.attempts = kept
	return count
}

func (e *Engine) recordAttempt(actionType string) {
	e.mu.Lock()
	e.attempts = append(e.attempts, attemptRecord{actionType: actionType, at: time.Now()})
	e.mu.Unlock()
}

// Execute runs action, honoring its dry-run-first contract: unless
// skipDryRun is true, a dry run is performed first and only a clean dry run
// is followed by the real attempt. Both steps are tracked as separate
// executions so the dry run's outcome is independently inspectable. When
// dryRunOnly is true, the real attempt is never made and the dry run's
// execution record is returned as-is.
func (e *Engine) Execute(ctx context.Context, action model.RemediationAction, skipDryRun, dryRunOnly bool) *model.RemediationExecution {
	e.recordAttempt(action.ActionType)

	if blocked, term := blockedByPolicy(action); blocked {
		e.metrics.RecordRemediationExecution(action.ActionType, "blocked")
		return e.record(&model.RemediationExecution{
			ExecutionID:  uuid.NewString(),
			ActionID:     action.ActionID,
			Status:       model.ExecutionFailed,
			ErrorMessage: "refused by safety check: parameter matched blocked pattern " + term,
		})
	}

	if (action.SupportsDryRun && !skipDryRun) || dryRunOnly {
		dryRun := e.run(ctx, action, true)
		e.record(dryRun)
		if dryRunOnly || dryRun.Status != model.ExecutionCompleted {
			if dryRun.Status != model.ExecutionCompleted {
				dryRun.AppendLog("dry run failed, real execution skipped")
			}
			e.metrics.RecordRemediationExecution(action.ActionType, dryRun.Status)
			return dryRun
		}
	}

	execution := e.record(e.run(ctx, action, false))
	e.metrics.RecordRemediationExecution(action.ActionType, execution.Status)
	return execution
}

func blockedByPolicy(action model.RemediationAction) (bool, string) {
	for _, v := range action.Parameters {
		lower := strings.ToLower(v)
		for _, blocked := range blockedCommandSubstrings {
			if strings.Contains(lower, blocked) {
				return true, blocked
			}
		}
	}
	return false, ""
}

func (e *Engine) run(ctx context.Context, action model.RemediationAction, dryRun bool) *model.RemediationExecution {
	execution := &model.RemediationExecution{
		ExecutionID: uuid.NewString(),
		ActionID:    action.ActionID,
		Status:      model.ExecutionExecuting,
		DryRun:      dryRun,
	}

	executor, ok := executors[action.ActionType]
	if !ok {
		execution.Status = model.ExecutionFailed
		execution.ErrorMessage = "no executor registered for action type " + action.ActionType
		return execution
	}

	deadline := action.MaxExecutionTime
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	resultCh := make(chan struct {
		results, rollback map[string]string
		err               error
	}, 1)
	go func() {
		results, rollback, err := executor(runCtx, action, dryRun)
		resultCh <- struct {
			results, rollback map[string]string
			err               error
		}{results, rollback, err}
	}()

	select {
	case <-runCtx.Done():
		execution.Status = model.ExecutionFailed
		execution.ErrorMessage = fmt.Sprintf("execution exceeded max_execution_time of %s", deadline)
		execution.ExecutionTime = time.Since(start)
		execution.AppendLog(execution.ErrorMessage)
		return execution
	case outcome := <-resultCh:
		execution.ExecutionTime = time.Since(start)
		if outcome.err != nil {
			execution.Status = model.ExecutionFailed
			execution.ErrorMessage = outcome.err.Error()
			execution.AppendLog("execution failed: " + outcome.err.Error())
			return execution
		}
		execution.Status = model.ExecutionCompleted
		execution.Results = outcome.results
		if !dryRun {
			execution.RollbackData = outcome.rollback
		}
		execution.AppendLog(fmt.Sprintf("%s completed in %s", action.ActionType, execution.ExecutionTime))
		return execution
	}
}

// Rollback reverts a prior successful, non-rollback execution using its
// stored rollback data. A rollback execution can never itself be rolled
// back.
func (e *Engine) Rollback(ctx context.Context, executionID string) (*model.RemediationExecution, error) {
	e.mu.Lock()
	original, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	if original.DryRun {
		return nil, fmt.Errorf("execution %s was a dry run, nothing to roll back", executionID)
	}
	if original.Status != model.ExecutionCompleted {
		return nil, fmt.Errorf("execution %s did not complete successfully, nothing to roll back", executionID)
	}
	if len(original.RollbackData) == 0 {
		return nil, fmt.Errorf("execution %s carries no rollback data", executionID)
	}

	rollback := &model.RemediationExecution{
		ExecutionID: uuid.NewString(),
		ActionID:    original.ActionID,
		Status:      model.ExecutionCompleted,
		Results:     original.RollbackData,
	}
	rollback.AppendLog("rolled back execution " + executionID)
	original.Status = model.ExecutionRolledBack
	original.AppendLog("rolled back by execution " + rollback.ExecutionID)

	return e.record(rollback), nil
}

func (e *Engine) record(execution *model.RemediationExecution) *model.RemediationExecution {
	e.mu.Lock()
	e.executions[execution.ExecutionID] = execution
	e.mu.Unlock()
	return execution
}

// Get returns an execution by id.
func (e *Engine) Get(executionID string) (*model.RemediationExecution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	execution, ok := e.executions[executionID]
	return execution, ok
}
