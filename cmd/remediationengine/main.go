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

// Command remediationengine runs component I: it decides, gates behind
// policy and approval, and carries out remediation actions in response to
// incidents.created, and serves the action/execution/approval HTTP surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/config"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/health"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/remediation"
)

func main() {
	cfg := config.Load("remediationengine")
	logger.Init(cfg.LogLevel, "remediationengine", cfg.LogFormat)
	logger.Infof("remediation engine starting, policy_engine_url=%q", cfg.PolicyEngineURL)

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Errorf("remediation engine: failed to initialize bus gateway: %v", err)
		os.Exit(1)
	}
	defer gateway.Close()

	policy := remediation.NewPolicyClient(cfg.PolicyEngineURL, cfg.RemediationRulesFilePath)
	defer policy.Close()
	approvals := remediation.NewApprovalStore(cfg.RemediationApprovalTTL(), gateway, cfg.RemediationJWTSecret)
	engine := remediation.NewEngine(cfg.RemediationRateLimitWindow())
	orchestrator := remediation.New(policy, approvals, engine)

	checker := health.New("remediationengine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.StartProbing(ctx)
	go approvals.RunExpirySweeper(ctx)
	go startMetricsServer(cfg.MetricsPort)
	go startAPIServer(cfg.HealthPort, checker, orchestrator, approvals)

	if err := orchestrator.Subscribe(ctx, gateway); err != nil {
		logger.Errorf("remediation engine: failed to subscribe: %v", err)
		os.Exit(1)
	}

	logger.Infof("remediation engine ready")
	waitForShutdown(cancel)
}

func newGateway(cfg *config.Config) (bus.Gateway, error) {
	if len(cfg.BusBrokers) == 0 {
		return bus.NewInMemoryGateway(), nil
	}
	return bus.NewKafkaGateway(cfg.BusBrokers)
}

func startMetricsServer(port int) {
	logger.Infof("remediation engine: starting metrics server on port %d", port)
	if err := metrics.StartServer(port); err != nil {
		logger.Errorf("remediation engine: metrics server error: %v", err)
	}
}

// startAPIServer mounts the action/execution and approval HTTP surfaces
// alongside /health on a single listener.
func startAPIServer(port int, checker *health.Checker, o *remediation.Orchestrator, approvals *remediation.ApprovalStore) {
	logger.Infof("remediation engine: starting API server on port %d", port)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.ServeHTTP)
	o.RegisterRoutes(mux)
	approvals.RegisterRoutes(mux)
	if err := http.ListenAndServe(":"+strconv.Itoa(port), mux); err != nil {
		logger.Errorf("remediation engine: API server error: %v", err)
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Infof("remediation engine: received signal %s, shutting down", sig)
	cancel()
	time.Sleep(time.Second)
}
