// Package config defines the top-level configuration for the manipulation
// detection service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/manipulation"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MG_* environment variables.
type Config struct {
	Mode      string                  `toml:"mode"`
	LogLevel  string                  `toml:"log_level"`
	Redis     RedisConfig             `toml:"redis"`
	Postgres  PostgresConfig          `toml:"postgres"`
	S3        S3Config                `toml:"s3"`
	Feed      FeedConfig              `toml:"feed"`
	Engine    EngineConfig            `toml:"engine"`
	Emitter   EmitterConfig           `toml:"emitter"`
	Archive   ArchiveConfig           `toml:"archive"`
	Server    ServerConfig            `toml:"server"`
	Reload    ReloadConfig            `toml:"reload"`
	Detection manipulation.Thresholds `toml:"detection"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// CacheTTL bounds how long a last-known assessment survives in Redis;
	// 0 keeps it until overwritten.
	CacheTTL duration `toml:"cache_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig selects how normalized market-data events reach the engine.
type FeedConfig struct {
	// Source is "pubsub", "stream" or "none".
	Source         string   `toml:"source"`
	Channel        string   `toml:"channel"`
	Stream         string   `toml:"stream"`
	Group          string   `toml:"group"`
	Consumer       string   `toml:"consumer"`
	BatchSize      int      `toml:"batch_size"`
	Block          duration `toml:"block"`
	ReconnectDelay duration `toml:"reconnect_delay"`
}

// EngineConfig sizes the per-symbol actors.
type EngineConfig struct {
	QueueSize int `toml:"queue_size"`
	MaxBatch  int `toml:"max_batch"`
}

// EmitterConfig controls assessment delivery.
type EmitterConfig struct {
	QueueSize          int      `toml:"queue_size"`
	PersistAll         bool     `toml:"persist_all"`
	PublishChannel     string   `toml:"publish_channel"`
	Stream             string   `toml:"stream"`
	StreamMaxLen       int64    `toml:"stream_max_len"`
	BreakerMaxFailures int      `toml:"breaker_max_failures"`
	BreakerTimeout     duration `toml:"breaker_timeout"`
}

// ArchiveConfig controls the periodic move of old assessments to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchLimit    int    `toml:"batch_limit"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the per-client request rate in requests per second; 0
	// disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// ReloadConfig controls hot reload of the detection section.
type ReloadConfig struct {
	Enabled  bool     `toml:"enabled"`
	Debounce duration `toml:"debounce"`
}

// duration wraps time.Duration so it can be decoded from a TOML string.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "serve",
		LogLevel: "info",
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			CacheTTL:   duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "marketguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketguard-archive",
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			Source:         "pubsub",
			Channel:        "md:events",
			Stream:         "stream:md:events",
			Group:          "marketguard",
			Consumer:       "marketguard-1",
			BatchSize:      256,
			Block:          duration{2 * time.Second},
			ReconnectDelay: duration{2 * time.Second},
		},
		Engine: EngineConfig{
			QueueSize: 1024,
			MaxBatch:  256,
		},
		Emitter: EmitterConfig{
			QueueSize:          4096,
			PublishChannel:     "assessments",
			Stream:             "stream:assessments",
			StreamMaxLen:       10000,
			BreakerMaxFailures: 5,
			BreakerTimeout:     duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
			BatchLimit:    50000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Reload: ReloadConfig{
			Enabled:  true,
			Debounce: duration{500 * time.Millisecond},
		},
		Detection: manipulation.DefaultThresholds(),
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":  true,
	"replay": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFeedSources = map[string]bool{
	"pubsub": true,
	"stream": true,
	"none":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: either dsn or host must be set when enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if !validFeedSources[c.Feed.Source] {
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: pubsub, stream, none)", c.Feed.Source))
	}
	if c.Feed.Source != "none" && !c.Redis.Enabled {
		errs = append(errs, "feed: source "+c.Feed.Source+" requires redis")
	}
	if c.Feed.Source == "stream" && (c.Feed.Stream == "" || c.Feed.Group == "" || c.Feed.Consumer == "") {
		errs = append(errs, "feed: stream, group and consumer are required for source stream")
	}

	if c.Engine.QueueSize <= 0 {
		errs = append(errs, "engine: queue_size must be > 0")
	}
	if c.Engine.MaxBatch <= 0 {
		errs = append(errs, "engine: max_batch must be > 0")
	}
	if c.Emitter.QueueSize <= 0 {
		errs = append(errs, "emitter: queue_size must be > 0")
	}

	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires both s3 and postgres")
		}
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be > 0")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, "server: rate_burst must be >= 1 when rate_limit is set")
	}

	for _, p := range c.Detection.Problems() {
		errs = append(errs, "detection: "+p)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
