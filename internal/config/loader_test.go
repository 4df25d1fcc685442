package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Mongo.Database != "echotimer" {
		t.Errorf("Mongo.Database = %q", cfg.Mongo.Database)
	}
	if cfg.Monitor.Interval != time.Minute {
		t.Errorf("Monitor.Interval = %v", cfg.Monitor.Interval)
	}
	if cfg.ServerID == "" {
		t.Error("ServerID must be generated")
	}
	if cfg.Version != "test" {
		t.Errorf("Version = %q", cfg.Version)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
listen: ":9001"
redis:
  addr: "redis.internal:6379"
  db: 3
monitor:
  interval: "30s"
  window: "10m"
`)
	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9001" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.DB != 3 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Monitor.Interval != 30*time.Second {
		t.Errorf("Monitor.Interval = %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.Window != 10*time.Minute {
		t.Errorf("Monitor.Window = %v", cfg.Monitor.Window)
	}
	// Untouched values keep their defaults.
	if cfg.Mongo.URI != "mongodb://localhost:27017" {
		t.Errorf("Mongo.URI = %q", cfg.Mongo.URI)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, `
listen: ":9001"
kafka:
  brokers: ["file-broker:9092"]
`)
	t.Setenv(EnvListen, ":7777")
	t.Setenv(EnvKafkaBrokers, "env-a:9092, env-b:9092")

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7777" {
		t.Errorf("Listen = %q, env must win", cfg.Listen)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "env-a:9092" || cfg.Kafka.Brokers[1] != "env-b:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, "listen: \":9001\"\nbogusKey: true\n")

	_, err := NewLoader(path, "test").Load()
	if err == nil {
		t.Fatal("expected strict parse error for unknown field")
	}
	if !strings.Contains(err.Error(), "strict config parse error") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, "monitor:\n  interval: \"soon\"\n")

	_, err := NewLoader(path, "test").Load()
	if err == nil || !strings.Contains(err.Error(), "monitor.interval") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"empty listen", func(c *AppConfig) { c.Listen = "" }},
		{"bad log level", func(c *AppConfig) { c.LogLevel = "verbose" }},
		{"no brokers", func(c *AppConfig) { c.Kafka.Brokers = nil }},
		{"blank broker", func(c *AppConfig) { c.Kafka.Brokers = []string{" "} }},
		{"zero monitor interval", func(c *AppConfig) { c.Monitor.Interval = 0 }},
		{"bad exporter", func(c *AppConfig) { c.OTel.Enabled = true; c.OTel.Exporter = "udp" }},
		{"sample out of range", func(c *AppConfig) { c.OTel.SampleRate = 1.5 }},
		{"zero ws burst", func(c *AppConfig) { c.WS.MessageBurst = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultServerID(t *testing.T) {
	id := DefaultServerID()
	if id == "" {
		t.Fatal("server id must not be empty")
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		if !strings.HasPrefix(id, host+"-") {
			t.Fatalf("id = %q, want %q prefix", id, host+"-")
		}
	}
}
