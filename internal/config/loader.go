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

// Load reads configuration from a TOML file at path, then applies
// environment variable overrides. A missing file is not an error: defaults
// plus the environment are used instead.
//
// Environment variables use the MICROROUTE_ prefix, e.g.
// MICROROUTE_REDIS_ADDR overrides redis.addr.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("decoding config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	// Load .env if present; real environment variables win over .env entries.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr("MICROROUTE_MODE", &cfg.Mode)
	setStr("MICROROUTE_LOG_LEVEL", &cfg.LogLevel)

	setStringSlice("MICROROUTE_SYMBOLS", &cfg.Venues.Symbols)
	setBool("MICROROUTE_BINANCE_ENABLED", &cfg.Venues.Binance.Enabled)
	setStr("MICROROUTE_BINANCE_WS_URL", &cfg.Venues.Binance.WsURL)
	setStr("MICROROUTE_BINANCE_REST_URL", &cfg.Venues.Binance.RestURL)
	setInt("MICROROUTE_VENUE_RATE_LIMIT", &cfg.Venues.RateLimit)
	setDuration("MICROROUTE_VENUE_RATE_WINDOW", &cfg.Venues.RateWindow)
	setDuration("MICROROUTE_VENUE_REFRESH_INTERVAL", &cfg.Venues.RefreshInterval)

	setStr("MICROROUTE_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("MICROROUTE_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("MICROROUTE_REDIS_DB", &cfg.Redis.DB)
	setInt("MICROROUTE_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	setBool("MICROROUTE_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setBool("MICROROUTE_POSTGRES_ENABLED", &cfg.Postgres.Enabled)
	setStr("MICROROUTE_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("MICROROUTE_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("MICROROUTE_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("MICROROUTE_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("MICROROUTE_POSTGRES_USER", &cfg.Postgres.User)
	setStr("MICROROUTE_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("MICROROUTE_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setBool("MICROROUTE_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setBool("MICROROUTE_S3_ENABLED", &cfg.S3.Enabled)
	setStr("MICROROUTE_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("MICROROUTE_S3_REGION", &cfg.S3.Region)
	setStr("MICROROUTE_S3_BUCKET", &cfg.S3.Bucket)
	setStr("MICROROUTE_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("MICROROUTE_S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("MICROROUTE_S3_USE_SSL", &cfg.S3.UseSSL)
	setBool("MICROROUTE_S3_FORCE_PATH_STYLE", &cfg.S3.ForcePathStyle)

	setBool("MICROROUTE_ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	setDuration("MICROROUTE_ARCHIVE_INTERVAL", &cfg.Archive.Interval)
	setInt("MICROROUTE_ARCHIVE_RETENTION_DAYS", &cfg.Archive.RetentionDays)

	setBool("MICROROUTE_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("MICROROUTE_SERVER_PORT", &cfg.Server.Port)
	setStringSlice("MICROROUTE_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	setStr("MICROROUTE_API_KEY", &cfg.Server.APIKey)
	setInt("MICROROUTE_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	setDuration("MICROROUTE_SERVER_RATE_WINDOW", &cfg.Server.RateWindow)
}

func setStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
