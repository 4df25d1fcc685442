package persistence

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// MarkRepo persists timestamp marks, append-only.
type MarkRepo struct {
	coll *mongo.Collection
}

// NewMarkRepo returns a repository bound to the timer_timestamps collection.
func NewMarkRepo(db *mongo.Database) *MarkRepo {
	return &MarkRepo{coll: db.Collection(CollTimestamps)}
}

// Insert stores one mark, assigning its id when empty.
func (r *MarkRepo) Insert(ctx context.Context, m *timer.TimestampMark) error {
	if m.ID == "" {
		m.ID = timer.NewID()
	}
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert mark: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return nil
}

// FindByTimer returns every mark saved against a timer, newest first.
func (r *MarkRepo) FindByTimer(ctx context.Context, timerID string) ([]timer.TimestampMark, error) {
	return r.find(ctx, bson.M{"timerId": timerID})
}

// FindByTimerAndUser returns one user's marks on a timer, newest first.
func (r *MarkRepo) FindByTimerAndUser(ctx context.Context, timerID, userID string) ([]timer.TimestampMark, error) {
	return r.find(ctx, bson.M{"timerId": timerID, "userId": userID})
}

func (r *MarkRepo) find(ctx context.Context, filter bson.M) ([]timer.TimestampMark, error) {
	cur, err := r.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find marks: %w: %w", timer.ErrStoreUnavailable, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	marks := []timer.TimestampMark{}
	if err := cur.All(ctx, &marks); err != nil {
		return nil, fmt.Errorf("decode marks: %w: %w", timer.ErrStoreUnavailable, err)
	}
	return marks, nil
}
