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

package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
)

// InMemoryGateway is an in-process Gateway used by component tests and by
// any deployment that has no broker to offer (e.g. a single-binary
// integration harness). It fans each Publish out to every Subscribe
// registered on the same topic, regardless of group, matching the at-most-
// once-per-group semantics a real consumer group would give.
type InMemoryGateway struct {
	mu          sync.RWMutex
	subscribers map[string][]inMemSub
	dedup       *deduper
	closed      bool
}

type inMemSub struct {
	group   string
	handler Handler
}

// NewInMemoryGateway creates an empty in-memory bus.
func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		subscribers: make(map[string][]inMemSub),
		dedup:       newDeduper(dedupWindow),
	}
}

// Publish implements Gateway, dispatching to every subscriber of topic on
// its own goroutine.
func (g *InMemoryGateway) Publish(ctx context.Context, topic, trackingID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	g.mu.RLock()
	subs := append([]inMemSub(nil), g.subscribers[topic]...)
	g.mu.RUnlock()

	msg := Message{Topic: topic, TrackingID: trackingID, Payload: body}
	for _, sub := range subs {
		sub := sub
		go func() {
			if err := sub.handler(ctx, msg); err != nil {
				logger.Warnf("bus(memory): handler for group %s/topic %s returned error: %v", sub.group, topic, err)
			}
		}()
	}
	return nil
}

// Subscribe implements Gateway.
func (g *InMemoryGateway) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	wrapped := wrapIdempotent(group, topic, g.dedup, handler)
	g.subscribers[topic] = append(g.subscribers[topic], inMemSub{group: group, handler: wrapped})
	return nil
}

// Close implements Gateway; it is a no-op beyond marking the bus closed
// since there is no underlying transport connection to release.
func (g *InMemoryGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

var _ Gateway = (*InMemoryGateway)(nil)
var _ Gateway = (*KafkaGateway)(nil)
