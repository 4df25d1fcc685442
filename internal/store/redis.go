// Package store builds the shared Redis client and owns the key schema the
// presence index and the TTL scheduler agree on.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// New creates a Redis client and verifies the connection.
func New(cfg Config, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis")

	return client, nil
}

// EnableKeyExpiryNotifications turns on keyspace expiry events ("Ex") so the
// scheduler can subscribe to them. Managed Redis offerings often reject
// CONFIG SET and ship the flag preconfigured, so failure is only a warning.
func EnableKeyExpiryNotifications(ctx context.Context, client *redis.Client, logger zerolog.Logger) {
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "store.notify_config_failed").
			Msg("could not enable keyspace expiry notifications; assuming the server is preconfigured")
		return
	}
	logger.Info().
		Str(log.FieldEvent, "store.notify_config_set").
		Msg("keyspace expiry notifications enabled")
}
