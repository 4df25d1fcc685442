package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// TimerRepo persists timer records in the timers collection.
type TimerRepo struct {
	coll *mongo.Collection
}

// NewTimerRepo returns a repository bound to the timers collection.
func NewTimerRepo(db *mongo.Database) *TimerRepo {
	return &TimerRepo{coll: db.Collection(CollTimers)}
}

// Insert stores a new timer. A missing ID or share token is assigned here so
// callers can hand in a bare record.
func (r *TimerRepo) Insert(ctx context.Context, t *timer.Timer) error {
	if t.ID == "" {
		t.ID = timer.NewID()
	}
	if t.ShareToken == "" {
		t.ShareToken = timer.NewShareToken()
	}
	if _, err := r.coll.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("insert timer: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return nil
}

// FindByID loads one timer by its primary id.
func (r *TimerRepo) FindByID(ctx context.Context, id string) (*timer.Timer, error) {
	var t timer.Timer
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, fmt.Errorf("find timer %s: %w", id, timer.ErrTimerNotFound)
	case err != nil:
		return nil, fmt.Errorf("find timer %s: %w: %w", id, timer.ErrStoreUnavailable, err)
	}
	return &t, nil
}

// FindByShareToken resolves a timer through its share token.
func (r *TimerRepo) FindByShareToken(ctx context.Context, token string) (*timer.Timer, error) {
	var t timer.Timer
	err := r.coll.FindOne(ctx, bson.M{"shareToken": token}).Decode(&t)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, fmt.Errorf("find timer by token: %w", timer.ErrTimerNotFound)
	case err != nil:
		return nil, fmt.Errorf("find timer by token: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return &t, nil
}

// UpdateTarget moves the target time of a pending timer. Writes race under
// last-writer-wins; the caller has already validated ownership and state.
func (r *TimerRepo) UpdateTarget(ctx context.Context, id string, target, now time.Time) error {
	res, err := r.coll.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"targetTime": target, "updatedAt": now},
	})
	if err != nil {
		return fmt.Errorf("update target for %s: %w: %w", id, timer.ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update target for %s: %w", id, timer.ErrTimerNotFound)
	}
	return nil
}

// MarkCompleted commits the completion transition. The filter requires
// completed=false so exactly one caller across the fleet observes
// committed=true; everyone else sees an idempotent no-op.
func (r *TimerRepo) MarkCompleted(ctx context.Context, id string, completedAt time.Time) (committed bool, err error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "completed": false},
		bson.M{"$set": bson.M{
			"completed":   true,
			"completedAt": completedAt,
			"updatedAt":   completedAt,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("mark completed %s: %w: %w", id, timer.ErrStoreUnavailable, err)
	}
	return res.ModifiedCount > 0, nil
}

// FindOverdue returns pending timers whose target fell inside (from, to].
// The monitor uses this to sweep for completions that never committed.
func (r *TimerRepo) FindOverdue(ctx context.Context, from, to time.Time) ([]timer.Timer, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{
			"completed":  false,
			"targetTime": bson.M{"$gt": from, "$lte": to},
		},
		options.Find().SetSort(bson.D{{Key: "targetTime", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find overdue timers: %w: %w", timer.ErrStoreUnavailable, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var timers []timer.Timer
	if err := cur.All(ctx, &timers); err != nil {
		return nil, fmt.Errorf("decode overdue timers: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return timers, nil
}
