// Package config handles configuration loading for threat-sentinel.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"threat-sentinel/internal/actions"
	"threat-sentinel/internal/kafka"
	"threat-sentinel/internal/storage"
)

// Config holds the complete application configuration.
type Config struct {
	Server      ServerConfig        `yaml:"server"`
	Correlation CorrelationConfig   `yaml:"correlation"`
	Runbooks    RunbooksConfig      `yaml:"runbooks"`
	Auth        AuthConfig          `yaml:"auth"`
	Notify      NotifyConfig        `yaml:"notify"`
	Bans        BansConfig          `yaml:"bans"`
	Reports     ReportsConfig       `yaml:"reports"`
	Storage     StorageConfig       `yaml:"storage"`
	Kafka       KafkaConfig         `yaml:"kafka"`
	Ingest      IngestConfig        `yaml:"ingest"`
	Commands    map[string][]string `yaml:"commands"`
	Logging     LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CorrelationConfig holds correlation engine settings.
type CorrelationConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
}

// RunbooksConfig holds runbook loading settings.
type RunbooksConfig struct {
	Dir            string        `yaml:"dir"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
	MaxLogEntries  int           `yaml:"max_log_entries"`
}

// AuthConfig holds API authentication settings. KeyHashes maps key IDs to
// bcrypt hashes of key secrets; plaintext secrets never appear in config.
type AuthConfig struct {
	KeyHashes map[string]string `yaml:"key_hashes"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Slack    SlackConfig     `yaml:"slack"`
}

// WebhookConfig holds one webhook channel.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SlackConfig holds Slack channel settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// BansConfig holds ban store settings.
type BansConfig struct {
	// Backend is "memory" or "redis".
	Backend string                 `yaml:"backend"`
	Redis   actions.RedisBanConfig `yaml:"redis"`
}

// ReportsConfig holds incident report settings.
type ReportsConfig struct {
	Dir     string        `yaml:"dir"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig holds S3 archival settings.
type ArchiveConfig struct {
	Enabled bool                    `yaml:"enabled"`
	S3      storage.S3ArchiveConfig `yaml:"s3"`
}

// StorageConfig holds ClickHouse persistence settings.
type StorageConfig struct {
	Enabled     bool                      `yaml:"enabled"`
	ClickHouse  storage.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter storage.BatchWriterConfig `yaml:"batch_writer"`
}

// KafkaConfig holds Kafka ingestion settings.
type KafkaConfig struct {
	Enabled  bool         `yaml:"enabled"`
	Consumer kafka.Config `yaml:"consumer"`
}

// IngestConfig holds sensor ingestion settings.
type IngestConfig struct {
	DTLS DTLSConfig `yaml:"dtls"`
}

// DTLSConfig holds the DTLS sensor listener settings.
type DTLSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Address           string        `yaml:"address"`
	CertFile          string        `yaml:"cert_file"`
	KeyFile           string        `yaml:"key_file"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Correlation: CorrelationConfig{
			WindowMinutes: 60,
		},
		Runbooks: RunbooksConfig{
			Dir:            "runbooks",
			ReloadInterval: time.Minute,
			MaxLogEntries:  1000,
		},
		Bans: BansConfig{
			Backend: "memory",
			Redis: actions.RedisBanConfig{
				Addr:        "localhost:6379",
				DialTimeout: 5 * time.Second,
			},
		},
		Reports: ReportsConfig{
			Dir: "reports",
			Archive: ArchiveConfig{
				S3: storage.DefaultS3ArchiveConfig(),
			},
		},
		Storage: StorageConfig{
			ClickHouse:  storage.DefaultClickHouseConfig(),
			BatchWriter: storage.DefaultBatchWriterConfig(),
		},
		Kafka: KafkaConfig{
			Consumer: kafka.DefaultConfig(),
		},
		Ingest: IngestConfig{
			DTLS: DTLSConfig{
				Address:           ":4433",
				MaxMessageSize:    64 * 1024,
				ConnectionTimeout: 30 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults. The path comes
// from SENTINEL_CONFIG_PATH, falling back to configs/config.yaml; a missing
// file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides for the settings
// that change between deployments.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTINEL_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}
	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("SENTINEL_RUNBOOK_DIR"); dir != "" {
		c.Runbooks.Dir = dir
	}
	if addr := os.Getenv("SENTINEL_REDIS_ADDR"); addr != "" {
		c.Bans.Backend = "redis"
		c.Bans.Redis.Addr = addr
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.Enabled = true
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}
	if brokers := os.Getenv("SENTINEL_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Enabled = true
		c.Kafka.Consumer.Brokers = splitAndTrim(brokers)
	}
}

func splitAndTrim(s string) []string {
	var parts []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Correlation.WindowMinutes <= 0 {
		return fmt.Errorf("correlation window_minutes must be positive")
	}
	if c.Runbooks.Dir == "" {
		return fmt.Errorf("runbooks dir is required")
	}
	switch c.Bans.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ban backend: %s", c.Bans.Backend)
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Consumer.Validate(); err != nil {
			return err
		}
	}
	return nil
}
