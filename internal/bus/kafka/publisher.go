// Package kafka implements the fleet event bus on Kafka via franz-go. Events
// are keyed by timer id for per-timer ordering; every server instance runs
// its own consumer group so each event reaches the whole fleet.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/SeongJinSong/kb-echotimer/internal/bus"
	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
)

// Publisher publishes event envelopes to the fleet topics.
type Publisher struct {
	client   *kgo.Client
	serverID string
	logger   zerolog.Logger
}

var _ bus.Publisher = (*Publisher)(nil)

// NewPublisher connects a producer client to the given brokers.
func NewPublisher(brokers []string, serverID string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("timer-producer-"+serverID),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Publisher{
		client:   client,
		serverID: serverID,
		logger:   log.WithComponent("kafka"),
	}, nil
}

// newRecord maps an envelope onto its topic with the timer id as the
// partitioning key.
func newRecord(env *event.Envelope) (*kgo.Record, error) {
	topic := env.Type.Topic()
	if topic == "" {
		return nil, fmt.Errorf("event %s is local-only and has no topic", env.Type)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", env.Type, err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(env.TimerID),
		Value: data,
	}, nil
}

// Publish produces the envelope asynchronously. Encoding problems are
// returned; broker-side failures are reported by the produce promise and
// absorbed by redelivery-tolerant consumers.
func (p *Publisher) Publish(ctx context.Context, env *event.Envelope) error {
	rec, err := newRecord(env)
	if err != nil {
		return err
	}

	typ := string(env.Type)
	p.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			metrics.BusPublishTotal.WithLabelValues(r.Topic, typ, "error").Inc()
			p.logger.Error().
				Err(err).
				Str(log.FieldTopic, r.Topic).
				Str(log.FieldEventType, typ).
				Str(log.FieldTimerID, string(r.Key)).
				Str(log.FieldEvent, "kafka.publish_failed").
				Msg("failed to publish event")
			return
		}
		metrics.BusPublishTotal.WithLabelValues(r.Topic, typ, "ok").Inc()
	})
	return nil
}

// Ping checks broker reachability.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "kafka.flush_failed").
			Msg("failed to flush producer on close")
	}
	p.client.Close()
}
