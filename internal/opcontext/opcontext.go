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

// Package opcontext is the anomaly detector's feedback channel from the
// enricher: the enricher classifies each ship's operational_status as it
// enriches events, and the detector reads the latest classification back to
// adjust its per-metric thresholds on the next pull cycle. Entries expire
// so a ship that stops reporting reverts to the normal threshold set rather
// than staying pinned to a stale classification forever.
//
// A Store is process-local. cmd/enricher and cmd/anomalydetector each create
// their own, so when they run as separate processes the detector's Store
// receives no classifications and its thresholds stay at the normal set.
package opcontext

import (
	"sync"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/model"
)

// staleAfter bounds how long a classification is trusted without a refresh.
const staleAfter = 15 * time.Minute

// Snapshot is one ship's latest operational classification.
type Snapshot struct {
	OperationalStatus string
	RainRateMMH       float64
	updatedAt         time.Time
}

// Store holds the latest Snapshot per ship.
type Store struct {
	mu   sync.RWMutex
	byShip map[string]Snapshot
}

// New creates an empty Store.
func New() *Store {
	return &Store{byShip: make(map[string]Snapshot)}
}

// Set records shipID's latest classification.
func (s *Store) Set(shipID string, snap Snapshot) {
	snap.updatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byShip[shipID] = snap
}

// Get returns shipID's latest classification, or the normal default if
// none was ever recorded or the last one has gone stale.
func (s *Store) Get(shipID string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.byShip[shipID]
	if !ok || time.Since(snap.updatedAt) > staleAfter {
		return Snapshot{OperationalStatus: model.OperationalStatusNormal}
	}
	return snap
}
