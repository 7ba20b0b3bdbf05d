package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MG_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// LoadDetection re-reads only the detection section of the file at path, on
// top of the default thresholds. It is what the hot-reload path uses, so
// edits to the other sections need a restart.
func LoadDetection(path string) (Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDetectionOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides reads well-known MG_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MG_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MG_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MG_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MG_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MG_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MG_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MG_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "MG_REDIS_CACHE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MG_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MG_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MG_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MG_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MG_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MG_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MG_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MG_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MG_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MG_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MG_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MG_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MG_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MG_S3_REGION")
	setStr(&cfg.S3.Bucket, "MG_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MG_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MG_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MG_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MG_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "MG_FEED_SOURCE")
	setStr(&cfg.Feed.Channel, "MG_FEED_CHANNEL")
	setStr(&cfg.Feed.Stream, "MG_FEED_STREAM")
	setStr(&cfg.Feed.Group, "MG_FEED_GROUP")
	setStr(&cfg.Feed.Consumer, "MG_FEED_CONSUMER")

	// ── Engine / emitter ──
	setInt(&cfg.Engine.QueueSize, "MG_ENGINE_QUEUE_SIZE")
	setInt(&cfg.Engine.MaxBatch, "MG_ENGINE_MAX_BATCH")
	setInt(&cfg.Emitter.QueueSize, "MG_EMITTER_QUEUE_SIZE")
	setBool(&cfg.Emitter.PersistAll, "MG_EMITTER_PERSIST_ALL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MG_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MG_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "MG_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MG_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MG_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MG_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "MG_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RateLimit, "MG_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "MG_SERVER_RATE_BURST")

	// ── Reload ──
	setBool(&cfg.Reload.Enabled, "MG_RELOAD_ENABLED")
	setDuration(&cfg.Reload.Debounce, "MG_RELOAD_DEBOUNCE")

	applyDetectionOverrides(cfg)

	// ── Top-level ──
	setStr(&cfg.Mode, "MG_MODE")
	setStr(&cfg.LogLevel, "MG_LOG_LEVEL")
}

// applyDetectionOverrides covers the thresholds most often tuned per
// deployment.
func applyDetectionOverrides(cfg *Config) {
	d := &cfg.Detection
	setFloat64(&d.LargeOrderNotional, "MG_DETECTION_LARGE_ORDER_NOTIONAL_THRESHOLD")
	setFloat64(&d.SpoofingDivisor, "MG_DETECTION_SPOOFING_DIVISOR")
	setFloat64(&d.WashRegularityThreshold, "MG_DETECTION_WASH_TRADING_REGULARITY_THRESHOLD")
	setFloat64(&d.FakeLiquidityHigh, "MG_DETECTION_FAKE_LIQUIDITY_HIGH_THRESHOLD")
	setFloat64(&d.FakeLiquidityLow, "MG_DETECTION_FAKE_LIQUIDITY_LOW_THRESHOLD")
	setInt(&d.MinConfidenceSamples, "MG_DETECTION_MIN_CONFIDENCE_SAMPLES")
	setFloat64(&d.ConfidencePenalty, "MG_DETECTION_CONFIDENCE_PENALTY_FACTOR")
	setFloat64(&d.AlertThreshold, "MG_DETECTION_ALERT_LIKELIHOOD_THRESHOLD")
	setInt(&d.SnapshotCapacity, "MG_DETECTION_SNAPSHOT_HISTORY_CAPACITY")
	setInt(&d.TradeCapacity, "MG_DETECTION_TRADE_WINDOW_CAPACITY")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
