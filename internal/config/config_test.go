package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

const sampleTOML = `
mode = "serve"
log_level = "debug"

[redis]
enabled = true
addr = "redis:6379"
password = "hunter2"

[postgres]
enabled = true
dsn = "postgres://u:p@db:5432/mg"

[feed]
source = "stream"
block = "750ms"

[detection]
spoofing_divisor = 5.0
wash_trading_regularity_threshold = 0.35
fake_liquidity_high_threshold = 0.18
fake_liquidity_low_threshold = 0.12
confidence_penalty_factor = 0.85
snapshot_history_capacity = 100

[detection.pattern_weights]
spoofing = 0.35
layering = 0.25
wash_trading = 0.25
fake_liquidity = 0.15
`

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "marketguard.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), sampleTOML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "stream", cfg.Feed.Source)
	assert.Equal(t, "750ms", cfg.Feed.Block.String())
	assert.Equal(t, "md:events", cfg.Feed.Channel, "unset keys keep defaults")

	d := cfg.Detection
	assert.Equal(t, 5.0, d.SpoofingDivisor)
	assert.Equal(t, 0.35, d.WashRegularityThreshold)
	assert.Equal(t, 0.85, d.ConfidencePenalty)
	assert.Equal(t, 100, d.SnapshotCapacity)
	assert.Equal(t, 0.35, d.Weights.Spoofing)
	assert.Equal(t, 25_000.0, d.LargeOrderNotional)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), sampleTOML)
	t.Setenv("MG_REDIS_ADDR", "other:6380")
	t.Setenv("MG_DETECTION_SPOOFING_DIVISOR", "4")
	t.Setenv("MG_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "other:6380", cfg.Redis.Addr)
	assert.Equal(t, 4.0, cfg.Detection.SpoofingDivisor)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_BadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "mode = [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Feed.Source = "kafka"
	cfg.Server.Port = 0
	cfg.Detection.Weights.Spoofing = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	for _, want := range []string{`unknown mode "trade"`, `unknown source "kafka"`, "port must be 1-65535", "detection: pattern_weights must sum to 1.0"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ArchiveNeedsStores(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: requires both s3 and postgres")

	cfg.S3.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "secret"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.S3.SecretKey)
	assert.Equal(t, "secret", cfg.Redis.Password, "original untouched")

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
