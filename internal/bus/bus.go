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

// Package bus is the Bus Gateway: every component publishes and subscribes
// to a small set of static topics through the Gateway interface rather than
// talking to Kafka directly. Delivery is at-least-once; Gateway itself
// de-duplicates redelivered messages on (topic, tracking_id) before handing
// them to a subscriber's Handler, so handlers can assume idempotent input.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/retry"
)

// Static topic names. These are the minimum required set; a Gateway
// implementation must not invent others.
const (
	TopicLogsAnomalous                = "logs.anomalous"
	TopicAnomalyDetected              = "anomaly.detected"
	TopicAnomalyDetectedEnriched      = "anomaly.detected.enriched"
	TopicAnomalyDetectedEnrichedFinal = "anomaly.detected.enriched.final"
	TopicIncidentsCreated             = "incidents.created"
	TopicRemediationApprovalRequest   = "remediation.approval.request"
)

// Message is the envelope handed to a Handler. Payload is kept as raw JSON
// so unknown fields survive an unmarshal/re-marshal pass-through, per the
// bus's "preserve unknown fields" contract.
type Message struct {
	Topic      string
	TrackingID string
	Payload    json.RawMessage
}

// Unmarshal decodes the message payload into v.
func (m Message) Unmarshal(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler processes one delivered Message. Returning an error leaves the
// message unacknowledged so the underlying transport can redeliver it.
type Handler func(ctx context.Context, msg Message) error

// Gateway is the contract every pipeline component programs against.
// KafkaGateway is the production implementation; InMemoryGateway backs unit
// and integration tests without a broker.
type Gateway interface {
	// Publish serializes payload as JSON and sends it to topic, keyed by
	// trackingID for consumer-group partition affinity.
	Publish(ctx context.Context, topic, trackingID string, payload interface{}) error
	// Subscribe registers handler for every message delivered on topic
	// under the named consumer group. Subscribe returns once the
	// subscription is established; delivery happens on background
	// goroutines until ctx is canceled.
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
	// Close releases any underlying transport resources.
	Close() error
}

// deduper tracks (topic, tracking_id) pairs seen recently so a redelivered
// at-least-once message is not processed twice by the same consumer group.
type deduper struct {
	mu  sync.Mutex
	ttl time.Duration
	seen map[string]time.Time
}

func newDeduper(ttl time.Duration) *deduper {
	return &deduper{ttl: ttl, seen: make(map[string]time.Time)}
}

// seenBefore reports whether key was already recorded within ttl, recording
// it either way.
func (d *deduper) seenBefore(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, t := range d.seen {
		if now.Sub(t) > d.ttl {
			delete(d.seen, k)
		}
	}

	if t, ok := d.seen[key]; ok && now.Sub(t) <= d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

func dedupKey(group, topic, trackingID string) string {
	return group + "|" + topic + "|" + trackingID
}

// wrapIdempotent wraps handler so a message already processed by group on
// topic within the dedup window is dropped (and acked) instead of
// reprocessed.
func wrapIdempotent(group, topic string, d *deduper, handler Handler) Handler {
	return func(ctx context.Context, msg Message) error {
		key := dedupKey(group, topic, msg.TrackingID)
		if msg.TrackingID != "" && d.seenBefore(key) {
			logger.Debugf("bus: dropping duplicate delivery group=%s topic=%s tracking_id=%s", group, topic, msg.TrackingID)
			return nil
		}
		return handler(ctx, msg)
	}
}

// publishErrorMetric records a bus publish failure for the given topic.
func publishErrorMetric(m *metrics.PipelineMetrics, topic string, err error) error {
	m.RecordBusPublishError(topic)
	return retry.WrapTransportError(err)
}
