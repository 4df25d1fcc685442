package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
)

// Handler processes one consumed envelope. Errors are logged and the event
// is acknowledged anyway: a retry could only produce duplicates, and the
// subscribers' handlers are idempotent.
type Handler func(ctx context.Context, env *event.Envelope) error

// Consumer consumes both fleet topics in a consumer group unique to this
// server instance. Per-server groups turn Kafka's work-sharing into a
// broadcast: every instance sees every event and filters independently
// against its own presence.
type Consumer struct {
	client   *kgo.Client
	serverID string
	handler  Handler
	logger   zerolog.Logger
}

// NewConsumer connects a consumer client for this server instance.
func NewConsumer(brokers []string, serverID string, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if handler == nil {
		return nil, fmt.Errorf("nil event handler")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("timer-consumer-"+serverID),
		kgo.ConsumerGroup("timer-service-"+serverID),
		kgo.ConsumeTopics(event.TopicTimerEvents, event.TopicUserActions),
		// Fresh instances must not replay the fleet's history.
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{
		client:   client,
		serverID: serverID,
		handler:  handler,
		logger:   log.WithComponent("kafka"),
	}, nil
}

// Run polls until the context is canceled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().
		Str(log.FieldServerID, c.serverID).
		Str(log.FieldEvent, "kafka.consumer_started").
		Msg("consuming fleet topics")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error().
				Err(err).
				Str(log.FieldTopic, topic).
				Int32("partition", partition).
				Str(log.FieldEvent, "kafka.fetch_error").
				Msg("fetch error")
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			c.handleRecord(ctx, rec)
		})
	}
}

// handleRecord decodes and dispatches one record. Nothing here stops the
// poll loop; offsets commit regardless of the outcome.
func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) {
	var env event.Envelope
	if err := json.Unmarshal(rec.Value, &env); err != nil {
		reason := "decode"
		if errors.Is(err, event.ErrUnknownType) {
			reason = "unknown_type"
		}
		metrics.BusConsumeSkippedTotal.WithLabelValues(reason).Inc()
		c.logger.Warn().
			Err(err).
			Str(log.FieldTopic, rec.Topic).
			Str(log.FieldTimerID, string(rec.Key)).
			Str(log.FieldEvent, "kafka.record_skipped").
			Msg("skipping undecodable record")
		return
	}

	metrics.BusConsumeTotal.WithLabelValues(rec.Topic, string(env.Type)).Inc()

	if err := c.handler(ctx, &env); err != nil {
		c.logger.Error().
			Err(err).
			Str(log.FieldTopic, rec.Topic).
			Str(log.FieldEventType, string(env.Type)).
			Str(log.FieldTimerID, env.TimerID).
			Str(log.FieldEventID, env.ID).
			Str(log.FieldEvent, "kafka.handler_failed").
			Msg("event handler failed; acknowledging anyway")
	}
}

// Close releases the consumer client.
func (c *Consumer) Close() {
	c.client.Close()
}
