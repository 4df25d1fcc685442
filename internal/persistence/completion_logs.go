package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// CompletionLogRepo persists per-server completion attempt records. The
// scheduler writes one row per expiry notification it receives and updates
// it as the attempt progresses; the monitor reads them back to explain
// timers that never completed.
type CompletionLogRepo struct {
	coll *mongo.Collection
}

// NewCompletionLogRepo returns a repository bound to the
// timer_completion_logs collection.
func NewCompletionLogRepo(db *mongo.Database) *CompletionLogRepo {
	return &CompletionLogRepo{coll: db.Collection(CollCompletionLogs)}
}

// Insert stores a fresh attempt record, assigning its id when empty.
func (r *CompletionLogRepo) Insert(ctx context.Context, l *timer.CompletionLog) error {
	if l.ID == "" {
		l.ID = timer.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if _, err := r.coll.InsertOne(ctx, l); err != nil {
		return fmt.Errorf("insert completion log: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return nil
}

// Update replaces the stored record with the caller's current state. The
// scheduler calls this after the lock attempt and again after processing.
func (r *CompletionLogRepo) Update(ctx context.Context, l *timer.CompletionLog) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": l.ID}, l)
	if err != nil {
		return fmt.Errorf("update completion log %s: %w: %w", l.ID, timer.ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update completion log %s: no such record", l.ID)
	}
	return nil
}

// FindByTimer returns every attempt recorded for a timer, newest first.
func (r *CompletionLogRepo) FindByTimer(ctx context.Context, timerID string) ([]timer.CompletionLog, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"timerId": timerID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find completion logs: %w: %w", timer.ErrStoreUnavailable, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	logs := []timer.CompletionLog{}
	if err := cur.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decode completion logs: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return logs, nil
}

// StatsSince counts attempts and successful completions recorded at or
// after the given instant.
func (r *CompletionLogRepo) StatsSince(ctx context.Context, since time.Time) (total, successes int64, err error) {
	total, err = r.coll.CountDocuments(ctx, bson.M{"createdAt": bson.M{"$gte": since}})
	if err != nil {
		return 0, 0, fmt.Errorf("count completion attempts: %w: %w", timer.ErrStoreUnavailable, err)
	}
	successes, err = r.coll.CountDocuments(ctx, bson.M{
		"createdAt": bson.M{"$gte": since},
		"success":   true,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("count successful completions: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return total, successes, nil
}
