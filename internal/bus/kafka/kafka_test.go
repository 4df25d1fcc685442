package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
)

func TestNewRecordRoutesByType(t *testing.T) {
	now := time.Now()

	env := event.NewTargetTimeChanged("timer-1", "srv-a", now, now.Add(time.Hour), "user-x")
	rec, err := newRecord(env)
	if err != nil {
		t.Fatalf("newRecord: %v", err)
	}
	if rec.Topic != event.TopicTimerEvents {
		t.Errorf("Topic = %q", rec.Topic)
	}
	if string(rec.Key) != "timer-1" {
		t.Errorf("Key = %q, must be the timer id for per-timer ordering", rec.Key)
	}

	env = event.NewUserJoined("timer-2", "srv-a", "user-1", 1)
	rec, err = newRecord(env)
	if err != nil {
		t.Fatalf("newRecord: %v", err)
	}
	if rec.Topic != event.TopicUserActions {
		t.Errorf("Topic = %q", rec.Topic)
	}
}

func TestNewRecordRejectsLocalOnlyEvents(t *testing.T) {
	env := event.NewOnlineUserCountUpdated("timer-1", "srv-a", 3)
	if _, err := newRecord(env); err == nil {
		t.Fatal("local-only event must not produce a record")
	}
}

func TestNewRecordValueDecodes(t *testing.T) {
	env := event.NewSharedTimerAccessed("timer-1", "srv-a", "user-viewer", "user-owner")
	rec, err := newRecord(env)
	if err != nil {
		t.Fatalf("newRecord: %v", err)
	}

	var decoded event.Envelope
	if err := json.Unmarshal(rec.Value, &decoded); err != nil {
		t.Fatalf("decode record value: %v", err)
	}
	if decoded.Type != event.TypeSharedTimerAccessed {
		t.Fatalf("Type = %q", decoded.Type)
	}
	p, ok := decoded.Payload.(event.SharedTimerAccessed)
	if !ok {
		t.Fatalf("payload type = %T", decoded.Payload)
	}
	if p.OwnerID != "user-owner" {
		t.Errorf("OwnerID = %q", p.OwnerID)
	}
}

func testConsumer(handler Handler) *Consumer {
	return &Consumer{
		serverID: "srv-test",
		handler:  handler,
		logger:   zerolog.Nop(),
	}
}

func TestHandleRecordDispatches(t *testing.T) {
	var got *event.Envelope
	c := testConsumer(func(_ context.Context, env *event.Envelope) error {
		got = env
		return nil
	})

	env := event.NewUserLeft("timer-1", "srv-b", "user-2", 0)
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	c.handleRecord(context.Background(), &kgo.Record{
		Topic: event.TopicUserActions,
		Key:   []byte("timer-1"),
		Value: data,
	})

	if got == nil {
		t.Fatal("handler not invoked")
	}
	if got.Type != event.TypeUserLeft || got.TimerID != "timer-1" {
		t.Fatalf("envelope = %+v", got)
	}
}

func TestHandleRecordSkipsGarbage(t *testing.T) {
	called := false
	c := testConsumer(func(context.Context, *event.Envelope) error {
		called = true
		return nil
	})

	c.handleRecord(context.Background(), &kgo.Record{
		Topic: event.TopicUserActions,
		Value: []byte("{not json"),
	})
	if called {
		t.Fatal("handler must not run for undecodable records")
	}

	c.handleRecord(context.Background(), &kgo.Record{
		Topic: event.TopicTimerEvents,
		Value: []byte(`{"eventType":"FUTURE_THING","eventId":"e","timerId":"t"}`),
	})
	if called {
		t.Fatal("handler must not run for unknown event types")
	}
}

func TestHandleRecordAcksOnHandlerError(t *testing.T) {
	c := testConsumer(func(context.Context, *event.Envelope) error {
		return errors.New("downstream broken")
	})

	env := event.NewUserJoined("timer-1", "srv-b", "user-2", 1)
	data, _ := json.Marshal(env)

	// Must not panic or propagate; the record is acknowledged regardless.
	c.handleRecord(context.Background(), &kgo.Record{
		Topic: event.TopicUserActions,
		Value: data,
	})
}
