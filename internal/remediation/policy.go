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
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// policyEngineTimeout bounds the external policy engine call, per §4.I
// step 2.
const policyEngineTimeout = 5 * time.Second

// BuiltInRule is one action type's fallback policy, loaded from a YAML
// rules file and hot-reloaded on change.
type BuiltInRule struct {
	ActionType        string   `yaml:"action_type"`
	MaxPerHour        int      `yaml:"max_per_hour"`
	RequiresApproval  bool     `yaml:"requires_approval"`
	AllowedRiskLevels []string `yaml:"allowed_risk_levels"`
	MaxReductionPct   *float64 `yaml:"max_reduction_percent,omitempty"`
	BusinessHoursOnly bool     `yaml:"business_hours_only,omitempty"`
	WeatherCheck      bool     `yaml:"weather_check,omitempty"`
}

// Decision is the policy evaluation's verdict.
type Decision struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
	Constraints      map[string]string
}

func defaultRules() map[string]BuiltInRule {
	return map[string]BuiltInRule{
		ActionSatelliteFailover:    {ActionType: ActionSatelliteFailover, MaxPerHour: 2, RequiresApproval: true, AllowedRiskLevels: []string{model.RiskHigh, model.RiskCritical}},
		ActionQoSShaping:           {ActionType: ActionQoSShaping, MaxPerHour: 10, RequiresApproval: false, AllowedRiskLevels: []string{model.RiskLow, model.RiskMedium, model.RiskHigh, model.RiskCritical}},
		ActionBandwidthReduction:   {ActionType: ActionBandwidthReduction, MaxPerHour: 6, RequiresApproval: false, AllowedRiskLevels: []string{model.RiskLow, model.RiskMedium, model.RiskHigh}, WeatherCheck: true},
		ActionAntennaRealignment:   {ActionType: ActionAntennaRealignment, MaxPerHour: 4, RequiresApproval: true, AllowedRiskLevels: []string{model.RiskMedium, model.RiskHigh}},
		ActionPowerAdjustment:      {ActionType: ActionPowerAdjustment, MaxPerHour: 6, RequiresApproval: false, AllowedRiskLevels: []string{model.RiskLow, model.RiskMedium, model.RiskHigh}},
		ActionErrorCorrectionBoost: {ActionType: ActionErrorCorrectionBoost, MaxPerHour: 20, RequiresApproval: false, AllowedRiskLevels: []string{model.RiskLow, model.RiskMedium, model.RiskHigh, model.RiskCritical}},
		ActionConfigRollback:       {ActionType: ActionConfigRollback, MaxPerHour: 2, RequiresApproval: true, AllowedRiskLevels: []string{model.RiskHigh, model.RiskCritical}, BusinessHoursOnly: true},
	}
}

// PolicyClient evaluates remediation policy, preferring an external policy
// engine and falling back to a built-in, YAML-configurable rule set that is
// hot-reloaded on file change.
type PolicyClient struct {
	engineURL  string
	httpClient *http.Client
	metrics    *metrics.PipelineMetrics

	mu    sync.RWMutex
	rules map[string]BuiltInRule

	watcher *fsnotify.Watcher
}

// NewPolicyClient creates a PolicyClient. If rulesFilePath is non-empty and
// readable, its rules override the built-in defaults and are reloaded
// whenever the file changes.
func NewPolicyClient(engineURL, rulesFilePath string) *PolicyClient {
	p := &PolicyClient{
		engineURL:  strings.TrimRight(engineURL, "/"),
		httpClient: &http.Client{Timeout: policyEngineTimeout},
		metrics:    metrics.New(),
		rules:      defaultRules(),
	}

	if rulesFilePath != "" {
		p.loadRulesFile(rulesFilePath)
		p.watchRulesFile(rulesFilePath)
	}
	return p
}

func (p *PolicyClient) loadRulesFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnf("policy client: could not read rules file %s, keeping current rules: %v", path, err)
		return
	}

	var loaded []BuiltInRule
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		logger.Warnf("policy client: rules file %s is malformed, keeping current rules: %v", path, err)
		return
	}

	next := make(map[string]BuiltInRule, len(loaded))
	for _, rule := range loaded {
		next[rule.ActionType] = rule
	}

	p.mu.Lock()
	p.rules = next
	p.mu.Unlock()
	logger.Infof("policy client: loaded %d rules from %s", len(next), path)
}

func (p *PolicyClient) watchRulesFile(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("policy client: could not start rules file watcher: %v", err)
		return
	}
	p.watcher = watcher

	if err := watcher.Add(path); err != nil {
		logger.Warnf("policy client: could not watch rules file %s: %v", path, err)
		return
	}

	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				p.loadRulesFile(path)
			}
		}
	}()
}

// Close stops the rules file watcher, if any.
func (p *PolicyClient) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *PolicyClient) ruleFor(actionType string) (BuiltInRule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rule, ok := p.rules[actionType]
	return rule, ok
}

// Evaluate returns the policy decision for actionType at riskLevel, trying
// the external policy engine first and falling back to the built-in rules
// on any unavailability, per §4.I step 2.
func (p *PolicyClient) Evaluate(ctx context.Context, actionType, riskLevel string, recentCount int) Decision {
	if p.engineURL != "" {
		if decision, ok := p.callExternal(ctx, actionType, riskLevel, recentCount); ok {
			return decision
		}
	}
	return p.evaluateBuiltIn(actionType, riskLevel, recentCount)
}

type externalPolicyRequest struct {
	ActionType  string `json:"action_type"`
	RiskLevel   string `json:"risk_level"`
	RecentCount int    `json:"recent_count"`
}

func (p *PolicyClient) callExternal(ctx context.Context, actionType, riskLevel string, recentCount int) (Decision, bool) {
	ctx, cancel := context.WithTimeout(ctx, policyEngineTimeout)
	defer cancel()

	body, err := json.Marshal(externalPolicyRequest{ActionType: actionType, RiskLevel: riskLevel, RecentCount: recentCount})
	if err != nil {
		return Decision{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.engineURL+"/evaluate", strings.NewReader(string(body)))
	if err != nil {
		return Decision{}, false
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	p.metrics.RecordDependencyCall("policy_engine", time.Since(start))
	if err != nil {
		logger.Warnf("policy client: external policy engine unavailable, falling back to built-in rules: %v", err)
		return Decision{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnf("policy client: external policy engine returned %d, falling back to built-in rules", resp.StatusCode)
		return Decision{}, false
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		logger.Warnf("policy client: external policy engine response malformed, falling back to built-in rules: %v", err)
		return Decision{}, false
	}
	return decision, true
}

func (p *PolicyClient) evaluateBuiltIn(actionType, riskLevel string, recentCount int) Decision {
	rule, ok := p.ruleFor(actionType)
	if !ok {
		return Decision{Allowed: false, Reason: "no policy rule for action type " + actionType}
	}

	if !containsString(rule.AllowedRiskLevels, riskLevel) {
		return Decision{Allowed: false, Reason: "risk level " + riskLevel + " not permitted for " + actionType}
	}

	if rule.MaxPerHour > 0 && recentCount >= rule.MaxPerHour {
		return Decision{Allowed: false, Reason: "rate limit exceeded for " + actionType}
	}

	if rule.BusinessHoursOnly && !withinBusinessHours(time.Now()) {
		return Decision{Allowed: false, Reason: actionType + " is restricted to business hours"}
	}

	constraints := make(map[string]string)
	if rule.MaxReductionPct != nil {
		constraints["max_reduction_percent"] = formatFloat(*rule.MaxReductionPct)
	}
	if rule.WeatherCheck {
		constraints["weather_check"] = "true"
	}

	return Decision{Allowed: true, RequiresApproval: rule.RequiresApproval, Reason: "built-in rule permits " + actionType, Constraints: constraints}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func withinBusinessHours(t time.Time) bool {
	hour := t.UTC().Hour()
	return hour >= 8 && hour < 18
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
