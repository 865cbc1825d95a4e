package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_PassValidation(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Venues.Symbols)
	assert.Equal(t, time.Minute, cfg.Venues.RateWindow.Duration)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestValidate_RejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown log_level "verbose"`)
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Venues.Symbols = nil
	cfg.Redis.Addr = ""
	cfg.Planner.MaxParticipation = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venues: symbols must not be empty")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
	assert.Contains(t, err.Error(), "planner: max_participation must be in (0, 1]")
}

func TestValidate_BinanceRequiredForIngestModes(t *testing.T) {
	cfg := Defaults()
	cfg.Venues.Binance.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binance must be enabled for mode full")

	// Server mode consumes persisted data only and does not need the feed.
	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ArchiveNeedsBothStores(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Enabled = false
	cfg.Postgres.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: s3 must be enabled")
	assert.Contains(t, err.Error(), "archive: postgres must be enabled")
}

func TestValidate_PostgresDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://app:secret@db:5432/microroute"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Redis.Addr, cfg.Redis.Addr)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "replay"
log_level = "debug"

[venues]
symbols = ["SOL-USD"]
rate_window = "30s"

[book]
resync_timeout = "2s"

[redis]
addr = "redis.internal:6379"

[postgres]
enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "replay", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"SOL-USD"}, cfg.Venues.Symbols)
	assert.Equal(t, 30*time.Second, cfg.Venues.RateWindow.Duration)
	assert.Equal(t, 2*time.Second, cfg.Book.ResyncTimeout.Duration)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Postgres.Enabled)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 1024, cfg.Book.QueueSize)
	assert.Equal(t, 10, cfg.Micro.TopLevels)
}

func TestLoad_InvalidFileFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "bogus"`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MICROROUTE_MODE", "ingest")
	t.Setenv("MICROROUTE_REDIS_ADDR", "other:6380")
	t.Setenv("MICROROUTE_REDIS_DB", "3")
	t.Setenv("MICROROUTE_SERVER_ENABLED", "false")
	t.Setenv("MICROROUTE_SYMBOLS", "BTC-USD, DOGE-USD ,")
	t.Setenv("MICROROUTE_VENUE_RATE_WINDOW", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Mode)
	assert.Equal(t, "other:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, []string{"BTC-USD", "DOGE-USD"}, cfg.Venues.Symbols)
	assert.Equal(t, 90*time.Second, cfg.Venues.RateWindow.Duration)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[redis]\naddr = \"file:6379\"\n"), 0o644))
	t.Setenv("MICROROUTE_REDIS_ADDR", "env:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
}

func TestLoad_MalformedEnvValuesIgnored(t *testing.T) {
	t.Setenv("MICROROUTE_REDIS_DB", "not-a-number")
	t.Setenv("MICROROUTE_SERVER_ENABLED", "maybe")
	t.Setenv("MICROROUTE_VENUE_RATE_WINDOW", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Redis.DB, cfg.Redis.DB)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, time.Minute, cfg.Venues.RateWindow.Duration)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Duration)

	require.Error(t, d.UnmarshalText([]byte("ninety minutes")))

	text, err := duration{5 * time.Second}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5s", string(text))
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Postgres.DSN = "postgres://app:pgpass@db/microroute"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"

	red := RedactedConfig(cfg)
	assert.Equal(t, "[redacted]", red.Redis.Password)
	assert.Equal(t, "[redacted]", red.Postgres.Password)
	assert.Equal(t, "[redacted]", red.Postgres.DSN)
	assert.Equal(t, "[redacted]", red.S3.AccessKey)
	assert.Equal(t, "[redacted]", red.S3.SecretKey)
	assert.Equal(t, "[redacted]", red.Server.APIKey)

	// Original is untouched and empty fields stay empty.
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Empty(t, RedactedConfig(Defaults()).Redis.Password)
}
