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

// Command correlator runs component G: it groups
// anomaly.detected.enriched.final events into tumbling windows per (ship,
// service, metric, anomaly type, severity bucket), closes a window early on
// idle, and publishes one incidents.created record per window.
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
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/correlator"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/health"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
)

func main() {
	cfg := config.Load("correlator")
	logger.Init(cfg.LogLevel, "correlator", cfg.LogFormat)
	logger.Infof("correlator starting, window=%s idle_close=%s", cfg.CorrelatorWindow(), cfg.CorrelatorIdleClose())

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Errorf("correlator: failed to initialize bus gateway: %v", err)
		os.Exit(1)
	}
	defer gateway.Close()

	c := correlator.New(cfg.CorrelatorWindow(), cfg.CorrelatorIdleClose(), gateway)

	checker := health.New("correlator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.StartProbing(ctx)
	go startMetricsServer(cfg.MetricsPort)
	go startHealthServer(cfg.HealthPort, checker)

	if err := c.Subscribe(ctx); err != nil {
		logger.Errorf("correlator: failed to subscribe: %v", err)
		os.Exit(1)
	}

	logger.Infof("correlator ready")
	waitForShutdown(cancel)
}

func newGateway(cfg *config.Config) (bus.Gateway, error) {
	if len(cfg.BusBrokers) == 0 {
		return bus.NewInMemoryGateway(), nil
	}
	return bus.NewKafkaGateway(cfg.BusBrokers)
}

func startMetricsServer(port int) {
	logger.Infof("correlator: starting metrics server on port %d", port)
	if err := metrics.StartServer(port); err != nil {
		logger.Errorf("correlator: metrics server error: %v", err)
	}
}

func startHealthServer(port int, checker *health.Checker) {
	logger.Infof("correlator: starting health server on port %d", port)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.ServeHTTP)
	if err := http.ListenAndServe(":"+strconv.Itoa(port), mux); err != nil {
		logger.Errorf("correlator: health server error: %v", err)
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Infof("correlator: received signal %s, shutting down", sig)
	cancel()
	time.Sleep(time.Second)
}
