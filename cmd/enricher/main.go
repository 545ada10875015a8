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

// Command enricher runs component F: it attaches device/weather/system-load
// context to anomaly.detected events, then runs a second AI-analysis pass
// (the enhancement endpoint when configured, the rule-based fallback
// scorer otherwise), republishing at each stage.
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
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/enricher"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/health"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metricsstore"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/opcontext"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/registry"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/weather"
)

func main() {
	cfg := config.Load("enricher")
	logger.Init(cfg.LogLevel, "enricher", cfg.LogFormat)
	logger.Infof("enricher starting, enhancement_url=%q", cfg.EnhancementURL)

	registryClient := registry.New(cfg.DeviceRegistryURL, cfg.DeviceRegistryLookupTimeout(), cfg.DeviceRegistryCacheTTL())
	weatherClient := weather.New(cfg.WeatherServiceURL, 5*time.Second)
	metricsStore := metricsstore.New(cfg.MetricsStoreURL, 5*time.Second, 30*time.Second)
	opctx := opcontext.New()

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Errorf("enricher: failed to initialize bus gateway: %v", err)
		os.Exit(1)
	}
	defer gateway.Close()

	e := enricher.New(registryClient, weatherClient, metricsStore, opctx, gateway, cfg.EnhancementURL)

	checker := health.New("enricher")
	checker.Register("device_registry", true, registryClient.HealthCheck)
	checker.Register("weather_service", false, weatherClient.HealthCheck)
	checker.Register("metrics_store", true, metricsStore.HealthCheck)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.StartProbing(ctx)
	go startMetricsServer(cfg.MetricsPort)
	go startHealthServer(cfg.HealthPort, checker)

	if err := e.Subscribe(ctx); err != nil {
		logger.Errorf("enricher: failed to subscribe: %v", err)
		os.Exit(1)
	}

	logger.Infof("enricher ready")
	waitForShutdown(cancel)
}

func newGateway(cfg *config.Config) (bus.Gateway, error) {
	if len(cfg.BusBrokers) == 0 {
		return bus.NewInMemoryGateway(), nil
	}
	return bus.NewKafkaGateway(cfg.BusBrokers)
}

func startMetricsServer(port int) {
	logger.Infof("enricher: starting metrics server on port %d", port)
	if err := metrics.StartServer(port); err != nil {
		logger.Errorf("enricher: metrics server error: %v", err)
	}
}

func startHealthServer(port int, checker *health.Checker) {
	logger.Infof("enricher: starting health server on port %d", port)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.ServeHTTP)
	if err := http.ListenAndServe(":"+strconv.Itoa(port), mux); err != nil {
		logger.Errorf("enricher: health server error: %v", err)
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Infof("enricher: received signal %s, shutting down", sig)
	cancel()
	time.Sleep(time.Second)
}
