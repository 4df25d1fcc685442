package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
)

// Environment variable names. All keys share the ECHOTIMER_ prefix.
const (
	EnvListen          = "ECHOTIMER_LISTEN"
	EnvMetricsListen   = "ECHOTIMER_METRICS_LISTEN"
	EnvLogLevel        = "ECHOTIMER_LOG_LEVEL"
	EnvServerID        = "ECHOTIMER_SERVER_ID"
	EnvRedisAddr       = "ECHOTIMER_REDIS_ADDR"
	EnvRedisPassword   = "ECHOTIMER_REDIS_PASSWORD"
	EnvRedisDB         = "ECHOTIMER_REDIS_DB"
	EnvKafkaBrokers    = "ECHOTIMER_KAFKA_BROKERS"
	EnvMongoURI        = "ECHOTIMER_MONGO_URI"
	EnvMongoDB         = "ECHOTIMER_MONGO_DB"
	EnvMonitorInterval = "ECHOTIMER_MONITOR_INTERVAL"
	EnvMonitorWindow   = "ECHOTIMER_MONITOR_WINDOW"
	EnvOTelEnabled     = "ECHOTIMER_OTEL_ENABLED"
	EnvOTelEndpoint    = "ECHOTIMER_OTEL_ENDPOINT"
	EnvOTelExporter    = "ECHOTIMER_OTEL_EXPORTER"
	EnvOTelSample      = "ECHOTIMER_OTEL_SAMPLE"
	EnvWSMessageRate   = "ECHOTIMER_WS_MSG_RATE"
	EnvWSMessageBurst  = "ECHOTIMER_WS_MSG_BURST"
	EnvHTTPOrigins     = "ECHOTIMER_HTTP_ORIGINS"
	EnvHTTPRateLimit   = "ECHOTIMER_HTTP_RATE_LIMIT"
)

// ParseString reads a string from an environment variable or returns the
// default. The source of the value is logged; values whose key looks
// sensitive are never logged.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists {
		lowerKey := strings.ToLower(key)
		switch {
		case strings.Contains(lowerKey, "password") || strings.Contains(lowerKey, "uri"):
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		case value == "":
			logger.Debug().
				Str("key", key).
				Str("default", defaultValue).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		default:
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	logDefault(logger, key).Str("default", defaultValue).Msg("using default value")
	return defaultValue
}

// ParseInt reads an integer from an environment variable or returns the
// default, falling back to the default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			logger.Debug().
				Str("key", key).
				Int("value", i).
				Str("source", "environment").
				Msg("using environment variable")
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	logDefault(logger, key).Int("default", defaultValue).Msg("using default value")
	return defaultValue
}

// ParseDuration reads a Go duration (e.g. "90s", "5m") from an environment
// variable or returns the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			logger.Debug().
				Str("key", key).
				Dur("value", d).
				Str("source", "environment").
				Msg("using environment variable")
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	logDefault(logger, key).Dur("default", defaultValue).Msg("using default value")
	return defaultValue
}

// ParseBool reads a boolean from an environment variable or returns the
// default. Accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			logger.Debug().
				Str("key", key).
				Bool("value", true).
				Str("source", "environment").
				Msg("using environment variable")
			return true
		case "false", "0", "no":
			logger.Debug().
				Str("key", key).
				Bool("value", false).
				Str("source", "environment").
				Msg("using environment variable")
			return false
		default:
			logger.Warn().
				Str("key", key).
				Str("value", v).
				Bool("default", defaultValue).
				Msg("invalid boolean in environment variable, using default")
		}
		return defaultValue
	}
	logDefault(logger, key).Bool("default", defaultValue).Msg("using default value")
	return defaultValue
}

// ParseFloat reads a float64 from an environment variable or returns the
// default.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			logger.Debug().
				Str("key", key).
				Float64("value", f).
				Str("source", "environment").
				Msg("using environment variable")
			return f
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	logDefault(logger, key).Float64("default", defaultValue).Msg("using default value")
	return defaultValue
}

// ParseStringSlice reads a comma-separated list from an environment variable
// or returns the default. Blank entries are dropped.
func ParseStringSlice(key string, defaultValue []string) []string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			logger.Debug().
				Str("key", key).
				Strs("value", out).
				Str("source", "environment").
				Msg("using environment variable")
			return out
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Strs("default", defaultValue).
			Msg("empty list in environment variable, using default")
	}
	logDefault(logger, key).Strs("default", defaultValue).Msg("using default value")
	return defaultValue
}

func logDefault(logger zerolog.Logger, key string) *zerolog.Event {
	return logger.Debug().Str("key", key).Str("source", "default")
}
