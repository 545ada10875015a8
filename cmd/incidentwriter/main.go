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

// Command incidentwriter runs component H: it persists incidents.created
// records into the incident store, resolves ship identity via the device
// registry, and serves the incident read/update HTTP surface.
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
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/incidentstore"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/incidentwriter"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/registry"
)

func main() {
	cfg := config.Load("incidentwriter")
	logger.Init(cfg.LogLevel, "incidentwriter", cfg.LogFormat)
	logger.Infof("incident writer starting")

	store := incidentstore.New(incidentstore.DefaultConfig())
	registryClient := registry.New(cfg.DeviceRegistryURL, cfg.DeviceRegistryLookupTimeout(), cfg.DeviceRegistryCacheTTL())

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Errorf("incident writer: failed to initialize bus gateway: %v", err)
		os.Exit(1)
	}
	defer gateway.Close()

	w := incidentwriter.New(store, registryClient, gateway)

	checker := health.New("incidentwriter")
	checker.Register("device_registry", true, registryClient.HealthCheck)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.StartProbing(ctx)
	go startMetricsServer(cfg.MetricsPort)
	go startAPIServer(cfg.HealthPort, checker, w)

	if err := w.Subscribe(ctx); err != nil {
		logger.Errorf("incident writer: failed to subscribe: %v", err)
		os.Exit(1)
	}

	logger.Infof("incident writer ready")
	waitForShutdown(cancel, store)
}

func newGateway(cfg *config.Config) (bus.Gateway, error) {
	if len(cfg.BusBrokers) == 0 {
		return bus.NewInMemoryGateway(), nil
	}
	return bus.NewKafkaGateway(cfg.BusBrokers)
}

func startMetricsServer(port int) {
	logger.Infof("incident writer: starting metrics server on port %d", port)
	if err := metrics.StartServer(port); err != nil {
		logger.Errorf("incident writer: metrics server error: %v", err)
	}
}

// startAPIServer mounts the incident read/update surface alongside /health
// on a single listener, since both are this component's external contract.
func startAPIServer(port int, checker *health.Checker, w *incidentwriter.Writer) {
	logger.Infof("incident writer: starting API server on port %d", port)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.ServeHTTP)
	w.RegisterRoutes(mux)
	if err := http.ListenAndServe(":"+strconv.Itoa(port), mux); err != nil {
		logger.Errorf("incident writer: API server error: %v", err)
	}
}

func waitForShutdown(cancel context.CancelFunc, store *incidentstore.Store) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Infof("incident writer: received signal %s, shutting down", sig)
	store.Stop()
	cancel()
	time.Sleep(time.Second)
}
