package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// EventRecord is the durable form of one fleet event. Envelope metadata is
// promoted to top-level fields for indexing; the type-specific fields land
// under payload.
type EventRecord struct {
	ID             string    `bson:"_id" json:"id"`
	EventID        string    `bson:"eventId" json:"eventId"`
	Type           string    `bson:"eventType" json:"eventType"`
	TimerID        string    `bson:"timerId" json:"timerId"`
	OriginServerID string    `bson:"originServerId" json:"originServerId"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	Payload        bson.M    `bson:"payload,omitempty" json:"payload,omitempty"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
}

// envelope metadata keys, stripped from the flat wire form to leave the
// payload fields.
var envelopeMetaKeys = []string{"eventType", "eventId", "timerId", "timestamp", "originServerId"}

func newEventRecord(env *event.Envelope, now time.Time) (*EventRecord, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("reshape event: %w", err)
	}
	for _, k := range envelopeMetaKeys {
		delete(flat, k)
	}
	payload := bson.M{}
	for k, v := range flat {
		payload[k] = v
	}
	return &EventRecord{
		ID:             timer.NewID(),
		EventID:        env.ID,
		Type:           string(env.Type),
		TimerID:        env.TimerID,
		OriginServerID: env.OriginServerID,
		Timestamp:      env.Timestamp,
		Payload:        payload,
		CreatedAt:      now,
	}, nil
}

// EventLogRepo appends fleet events to the timer_events collection. Records
// age out through the TTL index; nothing ever updates them in place.
type EventLogRepo struct {
	coll *mongo.Collection
}

// NewEventLogRepo returns a repository bound to the timer_events collection.
func NewEventLogRepo(db *mongo.Database) *EventLogRepo {
	return &EventLogRepo{coll: db.Collection(CollEvents)}
}

// Append stores one event.
func (r *EventLogRepo) Append(ctx context.Context, env *event.Envelope) error {
	rec, err := newEventRecord(env, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("append event: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return nil
}

// FindByTimer returns the most recent events recorded for a timer, newest
// first, capped at limit.
func (r *EventLogRepo) FindByTimer(ctx context.Context, timerID string, limit int64) ([]EventRecord, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"timerId": timerID},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("find events: %w: %w", timer.ErrStoreUnavailable, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	records := []EventRecord{}
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode events: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return records, nil
}
