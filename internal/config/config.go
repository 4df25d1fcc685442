// Package config loads service configuration with the precedence
// ENV > YAML file > defaults, validates the result and supports hot
// reloading the file through a ConfigHolder.
package config

import (
	"fmt"
	"strings"
	"time"
)

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	// Listen is the HTTP listen address for the API and websocket endpoint.
	Listen string
	// MetricsListen is the address of the metrics/health listener. Empty
	// disables the listener.
	MetricsListen string
	LogLevel      string
	// ServerID identifies this instance in presence keys, completion locks
	// and event envelopes. Must be unique per running instance.
	ServerID string
	Version  string

	Redis   RedisConfig
	Kafka   KafkaConfig
	Mongo   MongoConfig
	Monitor MonitorConfig
	OTel    OTelConfig
	WS      WSConfig
	HTTP    HTTPConfig
}

// HTTPConfig tunes the REST ingress.
type HTTPConfig struct {
	// AllowedOrigins restricts CORS; empty allows any origin, which is
	// the norm for link-shared timers.
	AllowedOrigins []string
	// RateLimitPerMinute bounds requests per client IP. Zero disables
	// the limiter.
	RateLimitPerMinute int
}

// RedisConfig configures the shared store connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the fleet event bus.
type KafkaConfig struct {
	Brokers []string
}

// MongoConfig configures the persistence layer.
type MongoConfig struct {
	URI      string
	Database string
}

// MonitorConfig configures the reconciliation monitor.
type MonitorConfig struct {
	// Interval between detection sweeps.
	Interval time.Duration
	// Window is how far back a sweep looks for overdue timers.
	Window time.Duration
}

// OTelConfig configures trace export.
type OTelConfig struct {
	Enabled    bool
	Endpoint   string
	Exporter   string
	SampleRate float64
}

// WSConfig bounds inbound websocket traffic per session.
type WSConfig struct {
	// MessageRate is the sustained inbound frames/second allowed per session.
	MessageRate float64
	// MessageBurst is the token bucket size.
	MessageBurst int
}

func defaults() AppConfig {
	return AppConfig{
		Listen:        ":8080",
		MetricsListen: ":9090",
		LogLevel:      "info",
		ServerID:      DefaultServerID(),
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "echotimer",
		},
		Monitor: MonitorConfig{
			Interval: time.Minute,
			Window:   5 * time.Minute,
		},
		OTel: OTelConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Exporter:   "grpc",
			SampleRate: 1.0,
		},
		WS: WSConfig{
			MessageRate:  10,
			MessageBurst: 20,
		},
		HTTP: HTTPConfig{
			RateLimitPerMinute: 600,
		},
	}
}

var validLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {},
}

// Validate checks the configuration for values the service cannot start
// with. It returns the first problem found.
func Validate(cfg AppConfig) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if _, ok := validLogLevels[strings.ToLower(cfg.LogLevel)]; !ok {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	if cfg.ServerID == "" {
		return fmt.Errorf("server id must not be empty")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis address must not be empty")
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	for _, b := range cfg.Kafka.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("kafka broker address must not be empty")
		}
	}
	if cfg.Mongo.URI == "" {
		return fmt.Errorf("mongo uri must not be empty")
	}
	if cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo database must not be empty")
	}
	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if cfg.Monitor.Window <= 0 {
		return fmt.Errorf("monitor window must be positive")
	}
	if cfg.OTel.Enabled {
		if cfg.OTel.Exporter != "grpc" && cfg.OTel.Exporter != "http" {
			return fmt.Errorf("invalid otel exporter %q (grpc or http)", cfg.OTel.Exporter)
		}
		if cfg.OTel.Endpoint == "" {
			return fmt.Errorf("otel endpoint must not be empty when tracing is enabled")
		}
	}
	if cfg.OTel.SampleRate < 0 || cfg.OTel.SampleRate > 1 {
		return fmt.Errorf("otel sample rate must be within [0, 1]")
	}
	if cfg.WS.MessageRate <= 0 {
		return fmt.Errorf("ws message rate must be positive")
	}
	if cfg.WS.MessageBurst < 1 {
		return fmt.Errorf("ws message burst must be at least 1")
	}
	if cfg.HTTP.RateLimitPerMinute < 0 {
		return fmt.Errorf("http rate limit must not be negative")
	}
	return nil
}
