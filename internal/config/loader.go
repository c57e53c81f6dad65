package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STXBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── STX ──
	setStr(&cfg.STX.APIHost, "STXBOT_STX_API_HOST")
	setStr(&cfg.STX.WSHost, "STXBOT_STX_WS_HOST")
	setStr(&cfg.STX.Email, "STXBOT_STX_EMAIL")
	setStr(&cfg.STX.Password, "STXBOT_STX_PASSWORD")
	setStr(&cfg.STX.EncryptedPasswordPath, "STXBOT_STX_ENCRYPTED_PASSWORD_PATH")
	setStr(&cfg.STX.PasswordKey, "STXBOT_STX_PASSWORD_KEY")
	setStr(&cfg.STX.TwoFactorCode, "STXBOT_STX_TWO_FACTOR_CODE")
	setDuration(&cfg.STX.Timeout, "STXBOT_STX_TIMEOUT")
	setInt(&cfg.STX.RateLimit, "STXBOT_STX_RATE_LIMIT")

	// ── Bot ──
	setFloat64(&cfg.Bot.BandPct, "STXBOT_BOT_BAND_PCT")
	setInt(&cfg.Bot.ProbabilityCapMax, "STXBOT_BOT_PROBABILITY_CAP_MAX")
	setInt64(&cfg.Bot.QuantityMin, "STXBOT_BOT_QUANTITY_MIN")
	setInt64(&cfg.Bot.QuantityMax, "STXBOT_BOT_QUANTITY_MAX")
	setUint64(&cfg.Bot.Seed, "STXBOT_BOT_SEED")
	setDuration(&cfg.Bot.LockTTL, "STXBOT_BOT_LOCK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "STXBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "STXBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "STXBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STXBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STXBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STXBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STXBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STXBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STXBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STXBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STXBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "STXBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "STXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STXBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STXBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STXBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STXBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "STXBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "STXBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "STXBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "STXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STXBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STXBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STXBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STXBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STXBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "STXBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STXBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "STXBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
