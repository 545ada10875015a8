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

// Package incidentwriter implements component H: it subscribes to
// incidents.created, recovers any missing or malformed fields defensively,
// inserts idempotently into the Incident Store, and serves the HTTP
// read/update surface over that store.
package incidentwriter

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/bus"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/incidentstore"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/registry"
)

// Writer subscribes to incidents.created and serves the incident read/
// update HTTP surface.
type Writer struct {
	store          *incidentstore.Store
	registryClient *registry.Client
	gateway        bus.Gateway
}

// New creates a Writer.
func New(store *incidentstore.Store, registryClient *registry.Client, gateway bus.Gateway) *Writer {
	return &Writer{store: store, registryClient: registryClient, gateway: gateway}
}

// Subscribe registers the incident-ingest handler under consumer group
// "incident-writer".
func (w *Writer) Subscribe(ctx context.Context) error {
	return w.gateway.Subscribe(ctx, bus.TopicIncidentsCreated, "incident-writer", w.handleIncident)
}

// rawIncident is a loosely typed view of the incidents.created payload,
// used for the cascading field-recovery pass before committing to the
// strongly typed model.Incident.
type rawIncident struct {
	IncidentID       string            `json:"incident_id"`
	ShipID           string            `json:"ship_id"`
	Service          string            `json:"service"`
	MetricName       string            `json:"metric_name"`
	MetricValue      json.Number       `json:"metric_value"`
	AnomalyScore     json.Number       `json:"anomaly_score"`
	Severity         string            `json:"incident_severity"`
	Host             string            `json:"host"`
	Hostname         string            `json:"hostname"`
	RawMsg           string            `json:"raw_msg"`
	Metadata         map[string]string `json:"metadata"`
}

func (w *Writer) handleIncident(ctx context.Context, msg bus.Message) error {
	var raw rawIncident
	if err := msg.Unmarshal(&raw); err != nil {
		logger.Warnf("incident writer: malformed incident, dropping: %v", err)
		return nil
	}

	var incident model.Incident
	if err := msg.Unmarshal(&incident); err != nil {
		// A type mismatch (e.g. a string-typed metric_value) leaves that field
		// zero and is recovered from raw below; anything else is malformed.
		if _, typeMismatch := err.(*json.UnmarshalTypeError); !typeMismatch {
			logger.Warnf("incident writer: malformed incident, dropping: %v", err)
			return nil
		}
	}

	shipID, shipSource := w.resolveShipID(ctx, raw)
	incident.ShipID = shipID
	incident.Service = coalesce(incident.Service, raw.Service, "unknown-service")
	incident.MetricName = coalesce(incident.MetricName, raw.MetricName, "unknown-metric")

	if incident.MetricValue == 0 {
		if v, err := raw.MetricValue.Float64(); err == nil && v != 0 {
			incident.MetricValue = v
		} else if v, found := parseNumericFallback(raw.RawMsg); found {
			incident.MetricValue = v
		}
	}
	if incident.AnomalyScore == 0 {
		if v, err := raw.AnomalyScore.Float64(); err == nil && v != 0 {
			incident.AnomalyScore = v
		}
	}
	if incident.IncidentSeverity == "" {
		incident.IncidentSeverity = normalizeSeverity(raw.Severity)
	} else {
		incident.IncidentSeverity = normalizeSeverity(incident.IncidentSeverity)
	}
	if incident.Status == "" {
		incident.Status = model.IncidentStatusOpen
	}

	incident.AppendTimeline("ship_id_resolved", "resolved via "+shipSource, "incident-writer")

	created := w.store.Insert(&incident)
	if !created {
		logger.Debugf("incident writer: incident_id=%s already present, insert is a no-op", incident.IncidentID)
	}
	return nil
}

// resolveShipID implements §4.H's cascading recovery: incoming field ->
// registry lookup by host/hostname/metadata.source_host -> hostname-
// derivation fallback -> "unknown-ship".
func (w *Writer) resolveShipID(ctx context.Context, raw rawIncident) (string, string) {
	if raw.ShipID != "" {
		return raw.ShipID, "incoming_field"
	}

	for _, host := range []string{raw.Host, raw.Hostname, raw.Metadata["source_host"]} {
		if host == "" {
			continue
		}
		if mapping := w.registryClient.Lookup(ctx, host); mapping != nil && mapping.ShipID != "" {
			return mapping.ShipID, "device_registry"
		}
	}

	for _, host := range []string{raw.Host, raw.Hostname, raw.Metadata["source_host"]} {
		if host == "" {
			continue
		}
		return hostnameDerivedShipID(host), "hostname_derivation"
	}

	return "unknown-ship", "default"
}

func hostnameDerivedShipID(host string) string {
	if idx := strings.Index(host, "-"); idx > 0 {
		return host[:idx] + "-ship"
	}
	return host + "-ship"
}

// normalizeSeverity maps info/debug severities down to low, per §4.H.
func normalizeSeverity(severity string) string {
	switch strings.ToLower(severity) {
	case "info", "debug":
		return model.SeverityLow
	case model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
		return strings.ToLower(severity)
	case "":
		return model.SeverityLow
	default:
		return strings.ToLower(severity)
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	metricValuePattern = regexp.MustCompile(`metric_value=(-?\d+(?:\.\d+)?)`)
	percentagePattern  = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*%`)
	byteUnitPattern    = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:KB|MB|GB|TB|B)\b`)
	decimalPattern     = regexp.MustCompile(`(-?\d+(?:\.\d+)?)`)
)

// parseNumericFallback regex-scans raw_msg for a metric value when no
// structured field carried one, trying progressively looser patterns.
func parseNumericFallback(rawMsg string) (float64, bool) {
	if rawMsg == "" {
		return 0, false
	}
	for _, pattern := range []*regexp.Regexp{metricValuePattern, percentagePattern, byteUnitPattern, decimalPattern} {
		if m := pattern.FindStringSubmatch(rawMsg); len(m) > 1 {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

// RegisterRoutes mounts the incident read/update HTTP surface onto mux.
func (w *Writer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /incidents", w.handleList)
	mux.HandleFunc("GET /incidents/{id}", w.handleGet)
	mux.HandleFunc("PUT /incidents/{id}", w.handleUpdate)
	mux.HandleFunc("GET /summary", w.handleSummary)
	mux.HandleFunc("POST /incidents/test", w.handleTest)
}

func (w *Writer) handleList(rw http.ResponseWriter, r *http.Request) {
	filter := incidentstore.Filter{
		Status: r.URL.Query().Get("status"),
		ShipID: r.URL.Query().Get("ship_id"),
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filter.Limit = limit
	}
	writeJSON(rw, http.StatusOK, w.store.List(filter))
}

func (w *Writer) handleGet(rw http.ResponseWriter, r *http.Request) {
	incident, ok := w.store.Get(r.PathValue("id"))
	if !ok {
		http.Error(rw, "incident not found", http.StatusNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, incident)
}

type updateRequest struct {
	Status       string `json:"status"`
	Acknowledged *bool  `json:"acknowledged"`
}

func (w *Writer) handleUpdate(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	incident, ok := w.store.Get(id)
	if !ok {
		http.Error(rw, "incident not found", http.StatusNotFound)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "malformed request body", http.StatusBadRequest)
		return
	}

	if req.Status != "" {
		w.store.SetStatus(id, req.Status, "api")
	}
	if req.Acknowledged != nil {
		w.store.SetAcknowledged(id, *req.Acknowledged)
		w.store.AppendTimeline(id, "acknowledged", strconv.FormatBool(*req.Acknowledged), "api")
	}

	writeJSON(rw, http.StatusOK, incident)
}

func (w *Writer) handleSummary(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.store.Summary())
}

// handleTest inserts a synthetic incident for integration smoke-testing.
func (w *Writer) handleTest(rw http.ResponseWriter, r *http.Request) {
	event := model.NewAnomalyEvent("test-"+strconv.FormatInt(int64(len(w.store.List(incidentstore.Filter{}))), 10), "test-ship", "system", model.DomainSystem, "statistical", "cpu_usage", 99, 0.7, 0.95, "zscore")
	incident := model.NewIncident(event.TrackingID, event.TrackingID, model.EnrichedAnomalyEvent{AnomalyEvent: event}, event.AnomalyType)
	w.store.Insert(incident)
	writeJSON(rw, http.StatusCreated, incident)
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
