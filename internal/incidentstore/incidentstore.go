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

// Package incidentstore is the Incident Store Client: an in-process,
// bounded, indexed store of incidents backing list()/summary() reads.
// Incidents live only in process memory; nothing is written to an external
// store, so they do not survive a restart. Inserts are idempotent on
// incident_id; timeline updates are append-only.
package incidentstore

import (
	"sort"
	"sync"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// Config bounds the in-process store's size and retention.
type Config struct {
	MaxIncidents  int
	Retention     time.Duration
	PruneInterval time.Duration
}

// DefaultConfig returns sane bounds for the in-process index.
func DefaultConfig() Config {
	return Config{
		MaxIncidents:  500,
		Retention:     24 * time.Hour,
		PruneInterval: 2 * time.Minute,
	}
}

// Filter narrows List results.
type Filter struct {
	Status string
	ShipID string
	Limit  int
}

// Summary is the Summary() response.
type Summary struct {
	Total    int             `json:"total"`
	Open     int             `json:"open"`
	Critical int             `json:"critical"`
	Recent   []*model.Incident `json:"recent"`
}

// Store is the Incident Store Client.
type Store struct {
	cfg Config

	mu            sync.RWMutex
	incidents     map[string]*model.Incident
	shipIndex     map[string]map[string]struct{}

	metrics *metrics.PipelineMetrics
	stopCh  chan struct{}
}

// New creates a Store and starts its background prune loop when
// cfg.PruneInterval > 0.
func New(cfg Config) *Store {
	if cfg.MaxIncidents <= 0 {
		cfg.MaxIncidents = DefaultConfig().MaxIncidents
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}

	s := &Store{
		cfg:       cfg,
		incidents: make(map[string]*model.Incident),
		shipIndex: make(map[string]map[string]struct{}),
		metrics:   metrics.New(),
		stopCh:    make(chan struct{}),
	}
	if cfg.PruneInterval > 0 {
		go s.pruneLoop(cfg.PruneInterval)
	}
	return s
}

// Stop ends the background prune loop. Idempotent.
func (s *Store) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Insert adds incident if its incident_id is not already present; a
// re-insert of a known incident_id is a no-op, keeping the call idempotent.
func (s *Store) Insert(incident *model.Incident) (created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.incidents[incident.IncidentID]; exists {
		return false
	}

	s.incidents[incident.IncidentID] = incident
	s.indexShipLocked(incident.ShipID, incident.IncidentID)
	s.enforceBoundLocked()
	s.metrics.RecordIncidentCreated(incident.ShipID, incident.IncidentSeverity)
	return true
}

// Get returns the incident with the given ID, if present.
func (s *Store) Get(incidentID string) (*model.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[incidentID]
	return inc, ok
}

// AppendTimeline appends a timeline entry to an existing incident; the
// timeline itself is never truncated or reordered by this call.
func (s *Store) AppendTimeline(incidentID, event, description, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[incidentID]
	if !ok {
		return false
	}
	inc.AppendTimeline(event, description, source)
	return true
}

// SetStatus transitions an existing incident's status.
func (s *Store) SetStatus(incidentID, status, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[incidentID]
	if !ok {
		return false
	}
	inc.SetStatus(status, source)
	return true
}

// SetAcknowledged flips an existing incident's acknowledged flag under the
// store's lock, the same serialized-write guarantee SetStatus gives status
// transitions.
func (s *Store) SetAcknowledged(incidentID string, acknowledged bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[incidentID]
	if !ok {
		return false
	}
	inc.Acknowledged = acknowledged
	return true
}

// List returns incidents matching filter, most recently updated first.
func (s *Store) List(filter Filter) []*model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*model.Incident
	if filter.ShipID != "" {
		for id := range s.shipIndex[filter.ShipID] {
			if inc, ok := s.incidents[id]; ok {
				candidates = append(candidates, inc)
			}
		}
	} else {
		for _, inc := range s.incidents {
			candidates = append(candidates, inc)
		}
	}

	filtered := candidates[:0:0]
	for _, inc := range candidates {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		filtered = append(filtered, inc)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}
	return filtered
}

// Summary returns aggregate counts plus the 10 most recently updated
// incidents.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := Summary{}
	var all []*model.Incident
	for _, inc := range s.incidents {
		all = append(all, inc)
		summary.Total++
		if inc.Status == model.IncidentStatusOpen {
			summary.Open++
		}
		if inc.IncidentSeverity == model.SeverityCritical {
			summary.Critical++
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if len(all) > 10 {
		all = all[:10]
	}
	summary.Recent = all
	return summary
}

func (s *Store) indexShipLocked(shipID, incidentID string) {
	if shipID == "" {
		return
	}
	if s.shipIndex[shipID] == nil {
		s.shipIndex[shipID] = make(map[string]struct{})
	}
	s.shipIndex[shipID][incidentID] = struct{}{}
}

// enforceBoundLocked evicts the oldest incidents once MaxIncidents is
// exceeded; must be called with mu held.
func (s *Store) enforceBoundLocked() {
	if len(s.incidents) <= s.cfg.MaxIncidents {
		return
	}

	type idTime struct {
		id string
		t  time.Time
	}
	all := make([]idTime, 0, len(s.incidents))
	for id, inc := range s.incidents {
		all = append(all, idTime{id: id, t: inc.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].t.Before(all[j].t) })

	toEvict := len(s.incidents) - s.cfg.MaxIncidents
	for i := 0; i < toEvict; i++ {
		s.evictLocked(all[i].id)
	}
}

func (s *Store) evictLocked(id string) {
	inc, ok := s.incidents[id]
	if !ok {
		return
	}
	delete(s.incidents, id)
	if set, ok := s.shipIndex[inc.ShipID]; ok {
		delete(set, id)
	}
}

func (s *Store) pruneLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Store) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.cfg.Retention)
	for id, inc := range s.incidents {
		if inc.Status == model.IncidentStatusClosed && inc.UpdatedAt.Before(cutoff) {
			s.evictLocked(id)
		}
	}
}
