// Package config defines the top-level configuration for the STX bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STXBOT_* environment variables.
type Config struct {
	STX      STXConfig      `toml:"stx"`
	Bot      BotConfig      `toml:"bot"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// STXConfig holds exchange endpoints and account credentials.
type STXConfig struct {
	APIHost               string   `toml:"api_host"`
	WSHost                string   `toml:"ws_host"`
	Email                 string   `toml:"email"`
	Password              string   `toml:"password"`
	EncryptedPasswordPath string   `toml:"encrypted_password_path"`
	PasswordKey           string   `toml:"password_key"`
	TwoFactorCode         string   `toml:"two_factor_code"`
	Timeout               duration `toml:"timeout"`
	// RateLimit caps API requests per second across every process sharing
	// the account. Needs redis.
	RateLimit int `toml:"rate_limit"`
}

// BotConfig holds the trading cycle parameters.
type BotConfig struct {
	// BandPct is the half-width of the tolerance band around the order
	// price, in percent.
	BandPct           float64 `toml:"band_pct"`
	ProbabilityCapMax int     `toml:"probability_cap_max"`
	QuantityMin       int64   `toml:"quantity_min"`
	QuantityMax       int64   `toml:"quantity_max"`
	// Seed fixes the random source. 0 seeds from the clock.
	Seed    uint64   `toml:"seed"`
	LockTTL duration `toml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the order and
// run journal.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for run reports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds status HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"` // empty disables auth
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		STX: STXConfig{
			APIHost:   "https://api-staging.on.sportsxapp.com",
			WSHost:    "wss://api-staging.on.sportsxapp.com/socket/websocket",
			Timeout:   duration{30 * time.Second},
			RateLimit: 5,
		},
		Bot: BotConfig{
			BandPct:           5,
			ProbabilityCapMax: 10,
			QuantityMin:       1,
			QuantityMax:       10,
			LockTTL:           duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "stxbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "stxbot",
			Prefix:         "runs",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"run_started", "order_placed", "order_replaced", "run_finished", "error"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// STX
	if c.STX.APIHost == "" {
		errs = append(errs, "stx: api_host must not be empty")
	}
	if c.STX.WSHost == "" {
		errs = append(errs, "stx: ws_host must not be empty")
	}
	if c.STX.Email == "" {
		errs = append(errs, "stx: email must be set")
	}
	if c.STX.Password == "" && c.STX.EncryptedPasswordPath == "" {
		errs = append(errs, "stx: either password or encrypted_password_path must be set")
	}
	if c.STX.EncryptedPasswordPath != "" && c.STX.PasswordKey == "" {
		errs = append(errs, "stx: password_key is required when encrypted_password_path is set")
	}

	// Bot
	if c.Bot.BandPct <= 0 || c.Bot.BandPct >= 100 {
		errs = append(errs, fmt.Sprintf("bot: band_pct must be in (0, 100), got %g", c.Bot.BandPct))
	}
	if c.Bot.ProbabilityCapMax < 0 {
		errs = append(errs, "bot: probability_cap_max must be >= 0")
	}
	if c.Bot.QuantityMin < 1 {
		errs = append(errs, "bot: quantity_min must be >= 1")
	}
	if c.Bot.QuantityMax < c.Bot.QuantityMin {
		errs = append(errs, "bot: quantity_max must not be below quantity_min")
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Bot.LockTTL.Duration < 3*time.Second {
			errs = append(errs, fmt.Sprintf("bot: lock_ttl must be at least 3s, got %s", c.Bot.LockTTL.Duration))
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
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
