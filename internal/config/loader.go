package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader. configPath may be empty for ENV-only setups.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves the configuration: defaults, then the YAML file (strict
// parse), then environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	mergeEnvConfig(&cfg)

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses the YAML file in strict mode: unknown fields, multiple
// documents and trailing content are all errors.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	if f.Listen != nil {
		cfg.Listen = *f.Listen
	}
	if f.MetricsListen != nil {
		cfg.MetricsListen = *f.MetricsListen
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if f.ServerID != nil {
		cfg.ServerID = *f.ServerID
	}
	if f.Redis != nil {
		if f.Redis.Addr != nil {
			cfg.Redis.Addr = *f.Redis.Addr
		}
		if f.Redis.Password != nil {
			cfg.Redis.Password = *f.Redis.Password
		}
		if f.Redis.DB != nil {
			cfg.Redis.DB = *f.Redis.DB
		}
	}
	if f.Kafka != nil && len(f.Kafka.Brokers) > 0 {
		cfg.Kafka.Brokers = f.Kafka.Brokers
	}
	if f.Mongo != nil {
		if f.Mongo.URI != nil {
			cfg.Mongo.URI = *f.Mongo.URI
		}
		if f.Mongo.Database != nil {
			cfg.Mongo.Database = *f.Mongo.Database
		}
	}
	if f.Monitor != nil {
		if f.Monitor.Interval != nil {
			d, err := time.ParseDuration(*f.Monitor.Interval)
			if err != nil {
				return fmt.Errorf("monitor.interval: %w", err)
			}
			cfg.Monitor.Interval = d
		}
		if f.Monitor.Window != nil {
			d, err := time.ParseDuration(*f.Monitor.Window)
			if err != nil {
				return fmt.Errorf("monitor.window: %w", err)
			}
			cfg.Monitor.Window = d
		}
	}
	if f.OTel != nil {
		if f.OTel.Enabled != nil {
			cfg.OTel.Enabled = *f.OTel.Enabled
		}
		if f.OTel.Endpoint != nil {
			cfg.OTel.Endpoint = *f.OTel.Endpoint
		}
		if f.OTel.Exporter != nil {
			cfg.OTel.Exporter = *f.OTel.Exporter
		}
		if f.OTel.SampleRate != nil {
			cfg.OTel.SampleRate = *f.OTel.SampleRate
		}
	}
	if f.WS != nil {
		if f.WS.MessageRate != nil {
			cfg.WS.MessageRate = *f.WS.MessageRate
		}
		if f.WS.MessageBurst != nil {
			cfg.WS.MessageBurst = *f.WS.MessageBurst
		}
	}
	if f.HTTP != nil {
		if len(f.HTTP.AllowedOrigins) > 0 {
			cfg.HTTP.AllowedOrigins = f.HTTP.AllowedOrigins
		}
		if f.HTTP.RateLimitPerMinute != nil {
			cfg.HTTP.RateLimitPerMinute = *f.HTTP.RateLimitPerMinute
		}
	}
	return nil
}

// mergeEnvConfig applies environment overrides. Every value falls back to
// whatever the file/defaults resolved, so an unset variable changes nothing.
func mergeEnvConfig(cfg *AppConfig) {
	cfg.Listen = ParseString(EnvListen, cfg.Listen)
	cfg.MetricsListen = ParseString(EnvMetricsListen, cfg.MetricsListen)
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)
	cfg.ServerID = ParseString(EnvServerID, cfg.ServerID)

	cfg.Redis.Addr = ParseString(EnvRedisAddr, cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(EnvRedisPassword, cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(EnvRedisDB, cfg.Redis.DB)

	cfg.Kafka.Brokers = ParseStringSlice(EnvKafkaBrokers, cfg.Kafka.Brokers)

	cfg.Mongo.URI = ParseString(EnvMongoURI, cfg.Mongo.URI)
	cfg.Mongo.Database = ParseString(EnvMongoDB, cfg.Mongo.Database)

	cfg.Monitor.Interval = ParseDuration(EnvMonitorInterval, cfg.Monitor.Interval)
	cfg.Monitor.Window = ParseDuration(EnvMonitorWindow, cfg.Monitor.Window)

	cfg.OTel.Enabled = ParseBool(EnvOTelEnabled, cfg.OTel.Enabled)
	cfg.OTel.Endpoint = ParseString(EnvOTelEndpoint, cfg.OTel.Endpoint)
	cfg.OTel.Exporter = ParseString(EnvOTelExporter, cfg.OTel.Exporter)
	cfg.OTel.SampleRate = ParseFloat(EnvOTelSample, cfg.OTel.SampleRate)

	cfg.WS.MessageRate = ParseFloat(EnvWSMessageRate, cfg.WS.MessageRate)
	cfg.WS.MessageBurst = ParseInt(EnvWSMessageBurst, cfg.WS.MessageBurst)

	cfg.HTTP.AllowedOrigins = ParseStringSlice(EnvHTTPOrigins, cfg.HTTP.AllowedOrigins)
	cfg.HTTP.RateLimitPerMinute = ParseInt(EnvHTTPRateLimit, cfg.HTTP.RateLimitPerMinute)
}
