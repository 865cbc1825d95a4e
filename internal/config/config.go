// Package config defines the top-level configuration for the routing engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MICROROUTE_* environment
// variables.
type Config struct {
	Venues   VenuesConfig   `toml:"venues"`
	Book     BookConfig     `toml:"book"`
	Micro    MicroConfig    `toml:"micro"`
	Vol      VolConfig      `toml:"vol"`
	Planner  PlannerConfig  `toml:"planner"`
	Feed     FeedConfig     `toml:"feed"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenuesConfig holds the tracked venue universe and per-venue parameters.
type VenuesConfig struct {
	// Symbols are the engine symbols tracked on every venue, e.g. "BTC-USD".
	Symbols []string `toml:"symbols"`

	Binance BinanceConfig `toml:"binance"`

	// FeeBps maps venue name to taker fee in basis points.
	FeeBps map[string]float64 `toml:"fee_bps"`

	// RateLimit / RateWindow define each venue's request budget.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	// RefreshInterval is how often venue metrics are re-sampled.
	RefreshInterval duration `toml:"refresh_interval"`
}

// BinanceConfig holds the Binance connector endpoints.
type BinanceConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
	RestURL string `toml:"rest_url"`
}

// BookConfig tunes the book store's queues and resync behaviour.
type BookConfig struct {
	QueueSize         int      `toml:"queue_size"`
	ResyncTimeout     duration `toml:"resync_timeout"`
	ResyncBackoff     duration `toml:"resync_backoff"`
	MaxResyncAttempts int      `toml:"max_resync_attempts"`
}

// MicroConfig tunes the microstructure estimator.
type MicroConfig struct {
	TopLevels    int      `toml:"top_levels"`
	TradeWindow  duration `toml:"trade_window"`
	ReturnBuffer int      `toml:"return_buffer"`
	CancelWindow duration `toml:"cancel_window"`
	StaleAfter   duration `toml:"stale_after"`
}

// VolConfig tunes the volatility forecaster.
type VolConfig struct {
	HistorySize     int      `toml:"history_size"`
	SampleInterval  duration `toml:"sample_interval"`
	ReestimateEvery int      `toml:"reestimate_every"`
	MinSamples      int      `toml:"min_samples"`
}

// PlannerConfig tunes the execution planner thresholds.
type PlannerConfig struct {
	TightSpreadBps        float64 `toml:"tight_spread_bps"`
	HighMicroVol          float64 `toml:"high_micro_vol"`
	MaxParticipation      float64 `toml:"max_participation"`
	DefaultHorizonMinutes int     `toml:"default_horizon_minutes"`
	ImpactK               float64 `toml:"impact_k"`
}

// FeedConfig tunes the market data dispatcher and the synthetic generator.
type FeedConfig struct {
	SubscribeBuffer      int      `toml:"subscribe_buffer"`
	MicroPublishInterval duration `toml:"micro_publish_interval"`

	// Synthetic drives replay mode.
	SyntheticSeed     int64    `toml:"synthetic_seed"`
	SyntheticInterval duration `toml:"synthetic_interval"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
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

// ArchiveConfig controls the aged-row archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// duration wraps time.Duration to support TOML string decoding of values
// like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values for a
// local single-process deployment.
func Defaults() Config {
	return Config{
		Venues: VenuesConfig{
			Symbols: []string{"BTC-USD", "ETH-USD"},
			Binance: BinanceConfig{
				Enabled: true,
				WsURL:   "wss://stream.binance.com:9443/stream",
				RestURL: "https://api.binance.com",
			},
			FeeBps: map[string]float64{
				"binance": 10.0,
			},
			RateLimit:       1200,
			RateWindow:      duration{time.Minute},
			RefreshInterval: duration{10 * time.Second},
		},
		Book: BookConfig{
			QueueSize:         1024,
			ResyncTimeout:     duration{5 * time.Second},
			ResyncBackoff:     duration{500 * time.Millisecond},
			MaxResyncAttempts: 5,
		},
		Micro: MicroConfig{
			TopLevels:    10,
			TradeWindow:  duration{5 * time.Second},
			ReturnBuffer: 100,
			CancelWindow: duration{30 * time.Second},
			StaleAfter:   duration{5 * time.Second},
		},
		Vol: VolConfig{
			HistorySize:     1440,
			SampleInterval:  duration{time.Minute},
			ReestimateEvery: 100,
			MinSamples:      20,
		},
		Planner: PlannerConfig{
			TightSpreadBps:        5,
			HighMicroVol:          0.8,
			MaxParticipation:      0.25,
			DefaultHorizonMinutes: 30,
			ImpactK:               5.0,
		},
		Feed: FeedConfig{
			SubscribeBuffer:      512,
			MicroPublishInterval: duration{time.Second},
			SyntheticSeed:        42,
			SyntheticInterval:    duration{100 * time.Millisecond},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "microroute",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "microroute-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"ingest": true,
	"server": true,
	"replay": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, ingest, server, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues
	if len(c.Venues.Symbols) == 0 {
		errs = append(errs, "venues: symbols must not be empty")
	}
	mode := strings.ToLower(c.Mode)
	if (mode == "full" || mode == "ingest") && !c.Venues.Binance.Enabled {
		errs = append(errs, "venues: binance must be enabled for mode "+c.Mode)
	}
	if c.Venues.Binance.Enabled {
		if c.Venues.Binance.WsURL == "" {
			errs = append(errs, "venues: binance.ws_url must not be empty")
		}
		if c.Venues.Binance.RestURL == "" {
			errs = append(errs, "venues: binance.rest_url must not be empty")
		}
	}
	if c.Venues.RateLimit <= 0 {
		errs = append(errs, "venues: rate_limit must be > 0")
	}

	// Book
	if c.Book.QueueSize < 1 {
		errs = append(errs, "book: queue_size must be >= 1")
	}
	if c.Book.MaxResyncAttempts < 1 {
		errs = append(errs, "book: max_resync_attempts must be >= 1")
	}

	// Micro
	if c.Micro.TopLevels < 1 {
		errs = append(errs, "micro: top_levels must be >= 1")
	}
	if c.Micro.ReturnBuffer < 2 {
		errs = append(errs, "micro: return_buffer must be >= 2")
	}

	// Vol
	if c.Vol.HistorySize < c.Vol.MinSamples {
		errs = append(errs, "vol: history_size must be >= min_samples")
	}
	if c.Vol.MinSamples < 2 {
		errs = append(errs, "vol: min_samples must be >= 2")
	}

	// Planner
	if c.Planner.MaxParticipation <= 0 || c.Planner.MaxParticipation > 1 {
		errs = append(errs, "planner: max_participation must be in (0, 1]")
	}
	if c.Planner.DefaultHorizonMinutes < 1 {
		errs = append(errs, "planner: default_horizon_minutes must be >= 1")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Archive needs both stores.
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: s3 must be enabled when archiving")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: postgres must be enabled when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
