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
	"time"

	"github.com/IBM/sarama"

	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/logger"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/metrics"
	"github.com/iLodeStar/AIOps-NAAS-sub000/internal/retry"
)

// dedupWindow bounds how long a (group, topic, tracking_id) key is
// remembered for idempotent redelivery handling.
const dedupWindow = 10 * time.Minute

// KafkaGateway is the production Gateway backed by Kafka via sarama.
// Publishes use a synchronous producer with local-broker acks so a
// successful Publish call means the message is durably queued; consumption
// uses one ConsumerGroup per (topic, group) pair with at-least-once
// semantics — offsets are committed only after the handler returns nil.
type KafkaGateway struct {
	brokers  []string
	producer sarama.SyncProducer
	retryer  *retry.Retryer
	metrics  *metrics.PipelineMetrics
	dedup    *deduper

	mu     sync.Mutex
	groups []sarama.ConsumerGroup
}

// NewKafkaGateway dials brokers and prepares a synchronous producer.
func NewKafkaGateway(brokers []string) (*KafkaGateway, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, retry.WrapTransportError(err)
	}

	m := metrics.New()
	return &KafkaGateway{
		brokers:  brokers,
		producer: producer,
		retryer:  retry.New(retry.DefaultConfig(), m),
		metrics:  m,
		dedup:    newDeduper(dedupWindow),
	}, nil
}

// Publish implements Gateway.
func (g *KafkaGateway) Publish(ctx context.Context, topic, trackingID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(trackingID),
		Value: sarama.ByteEncoder(body),
	}

	return g.retryer.DoWithContext(ctx, "bus.publish."+topic, func(ctx context.Context) error {
		_, _, err := g.producer.SendMessage(msg)
		if err != nil {
			return publishErrorMetric(g.metrics, topic, err)
		}
		return nil
	})
}

// Subscribe implements Gateway, starting a ConsumerGroup for (topic, group)
// that dispatches to handler on a background goroutine until ctx is done.
func (g *KafkaGateway) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Version = sarama.V2_8_0_0

	cg, err := sarama.NewConsumerGroup(g.brokers, group, cfg)
	if err != nil {
		return retry.WrapTransportError(err)
	}

	g.mu.Lock()
	g.groups = append(g.groups, cg)
	g.mu.Unlock()

	wrapped := wrapIdempotent(group, topic, g.dedup, handler)
	consumer := &groupConsumer{topic: topic, handler: wrapped}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := cg.Consume(ctx, []string{topic}, consumer); err != nil {
				logger.Errorf("bus: consumer group %s/%s error: %v", group, topic, err)
			}
		}
	}()

	go func() {
		for err := range cg.Errors() {
			logger.Errorf("bus: consumer group %s/%s async error: %v", group, topic, err)
		}
	}()

	return nil
}

// Close implements Gateway.
func (g *KafkaGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for _, cg := range g.groups {
		if err := cg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := g.producer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// groupConsumer implements sarama.ConsumerGroupHandler for a single topic.
type groupConsumer struct {
	topic   string
	handler Handler
}

func (c *groupConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *groupConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *groupConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m := Message{
				Topic:      c.topic,
				TrackingID: string(msg.Key),
				Payload:    append(json.RawMessage(nil), msg.Value...),
			}
			if err := c.handler(sess.Context(), m); err != nil {
				logger.Errorf("bus: handler failed for topic %s, leaving unacked for redelivery: %v", c.topic, err)
				continue
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
