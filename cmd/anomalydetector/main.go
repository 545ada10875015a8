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

// Command anomalydetector runs component E: it pulls metrics from the
// metrics store on a fixed cycle, scores them against the configured
// statistical detectors, and also independently scores logs.anomalous
// records, publishing anomaly.detected onto the bus.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/anomalydetector"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/config"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/health"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metricsstore"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/opcontext"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/registry"
)

func main() {
	cfg := config.Load("anomalydetector")
	logger.Init(cfg.LogLevel, "anomalydetector", cfg.LogFormat)
	logger.Infof("anomaly detector starting for ship_id=%s", cfg.ShipID)

	metricsStore := metricsstore.New(cfg.MetricsStoreURL, 5*time.Second, 30*time.Second)
	registryClient := registry.New(cfg.DeviceRegistryURL, cfg.DeviceRegistryLookupTimeout(), cfg.DeviceRegistryCacheTTL())
	opctx := opcontext.New()

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Errorf("anomaly detector: failed to initialize bus gateway: %v", err)
		os.Exit(1)
	}
	defer gateway.Close()

	detector := anomalydetector.New(
		cfg.ShipID,
		anomalydetector.DefaultQueries(cfg.Thresholds),
		cfg.DetectionCycle(),
		cfg.DetectionWindowSize,
		metricsStore,
		registryClient,
		opctx,
		gateway,
	)

	checker := health.New("anomalydetector")
	checker.Register("metrics_store", true, metricsStore.HealthCheck)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.StartProbing(ctx)
	go startMetricsServer(cfg.MetricsPort)
	go startHealthServer(cfg.HealthPort, checker)

	if err := detector.SubscribeLogPath(ctx); err != nil {
		logger.Errorf("anomaly detector: failed to subscribe to log path: %v", err)
		os.Exit(1)
	}
	go detector.Run(ctx)

	logger.Infof("anomaly detector ready, cycle=%s window_size=%d", cfg.DetectionCycle(), cfg.DetectionWindowSize)
	waitForShutdown(cancel)
}

func newGateway(cfg *config.Config) (bus.Gateway, error) {
	if len(cfg.BusBrokers) == 0 {
		return bus.NewInMemoryGateway(), nil
	}
	return bus.NewKafkaGateway(cfg.BusBrokers)
}

func startMetricsServer(port int) {
	logger.Infof("anomaly detector: starting metrics server on port %d", port)
	if err := metrics.StartServer(port); err != nil {
		logger.Errorf("anomaly detector: metrics server error: %v", err)
	}
}

func startHealthServer(port int, checker *health.Checker) {
	logger.Infof("anomaly detector: starting health server on port %d", port)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.ServeHTTP)
	if err := http.ListenAndServe(":"+strconv.Itoa(port), mux); err != nil {
		logger.Errorf("anomaly detector: health server error: %v", err)
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Infof("anomaly detector: received signal %s, shutting down", sig)
	cancel()
	time.Sleep(time.Second)
}
