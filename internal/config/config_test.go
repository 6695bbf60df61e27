package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 || cfg.Correlation.WindowMinutes != 60 {
		t.Errorf("unexpected defaults: %+v", cfg.Server)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := []byte(`
server:
  http_port: 9090
correlation:
  window_minutes: 30
runbooks:
  dir: /etc/sentinel/runbooks
bans:
  backend: redis
  redis:
    addr: redis.internal:6379
logging:
  level: debug
`)
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SENTINEL_CONFIG_PATH", path)
	t.Setenv("SENTINEL_HTTP_PORT", "7070")
	t.Setenv("SENTINEL_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("env override lost: port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Correlation.WindowMinutes != 30 {
		t.Errorf("file value lost: window = %d", cfg.Correlation.WindowMinutes)
	}
	if cfg.Bans.Backend != "redis" || cfg.Bans.Redis.Addr != "redis.internal:6379" {
		t.Errorf("bans config = %+v", cfg.Bans)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Consumer.Brokers) != 2 {
		t.Errorf("kafka config = %+v", cfg.Kafka)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config failed validation: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"bad window", func(c *Config) { c.Correlation.WindowMinutes = -1 }},
		{"no runbook dir", func(c *Config) { c.Runbooks.Dir = "" }},
		{"unknown ban backend", func(c *Config) { c.Bans.Backend = "dynamo" }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
