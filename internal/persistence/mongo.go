// Package persistence holds the MongoDB repositories for timers, timestamp
// marks, completion logs and the append-only event log, plus index
// bootstrap. All repository errors wrap the domain sentinels so callers can
// classify them with errors.Is.
package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
)

// Collection names.
const (
	CollTimers         = "timers"
	CollTimestamps     = "timer_timestamps"
	CollCompletionLogs = "timer_completion_logs"
	CollEvents         = "timer_events"
)

// Retention windows enforced by TTL indexes.
const (
	timerRetention         = 30 * 24 * time.Hour
	completionLogRetention = 90 * 24 * time.Hour
	eventRetention         = 365 * 24 * time.Hour
)

// Connect opens a client, verifies the connection and returns the database
// handle.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger := log.WithComponent("persistence")
	logger.Info().
		Str("database", dbName).
		Msg("connected to MongoDB")

	return client.Database(dbName), nil
}

// Disconnect closes the underlying client.
func Disconnect(ctx context.Context, db *mongo.Database) error {
	return db.Client().Disconnect(ctx)
}

func timerIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "shareToken", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "completed", Value: 1}, {Key: "targetTime", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "updatedAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(timerRetention.Seconds())),
		},
	}
}

func timestampIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timerId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "timerId", Value: 1}, {Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	}
}

func completionLogIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timerId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "timerId", Value: 1}, {Key: "success", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(completionLogRetention.Seconds())),
		},
	}
}

func eventIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timerId", Value: 1}, {Key: "timestamp", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(eventRetention.Seconds())),
		},
	}
}

// EnsureIndexes creates every index the repositories rely on. Safe to call
// on every startup; existing indexes are left alone.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, models := range map[string][]mongo.IndexModel{
		CollTimers:         timerIndexes(),
		CollTimestamps:     timestampIndexes(),
		CollCompletionLogs: completionLogIndexes(),
		CollEvents:         eventIndexes(),
	} {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", coll, err)
		}
	}
	return nil
}
