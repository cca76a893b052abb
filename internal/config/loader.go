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
// built-in defaults, applies CHAINBANDIT_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate().
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

// applyEnvOverrides reads well-known CHAINBANDIT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bandit ──
	setStringSlice(&cfg.Bandit.Chains, "CHAINBANDIT_BANDIT_CHAINS")
	setStr(&cfg.Bandit.Strategy, "CHAINBANDIT_BANDIT_STRATEGY")
	setFloat64(&cfg.Bandit.DecayFactor, "CHAINBANDIT_BANDIT_DECAY_FACTOR")
	setStr(&cfg.Bandit.DecayCron, "CHAINBANDIT_BANDIT_DECAY_CRON")
	setInt(&cfg.Bandit.HistoryLimit, "CHAINBANDIT_BANDIT_HISTORY_LIMIT")

	// ── Loop ──
	setDuration(&cfg.Loop.TickInterval, "CHAINBANDIT_LOOP_TICK_INTERVAL")
	setDuration(&cfg.Loop.DecisionInterval, "CHAINBANDIT_LOOP_DECISION_INTERVAL")
	setDuration(&cfg.Loop.MaxLatency, "CHAINBANDIT_LOOP_MAX_LATENCY")
	setFloat64(&cfg.Loop.MinProfitUSD, "CHAINBANDIT_LOOP_MIN_PROFIT_USD")
	setBool(&cfg.Loop.DryRun, "CHAINBANDIT_LOOP_DRY_RUN")

	// ── Simulator ──
	setFloat64(&cfg.Simulator.RewardScale, "CHAINBANDIT_SIMULATOR_REWARD_SCALE")
	setUint64(&cfg.Simulator.Seed, "CHAINBANDIT_SIMULATOR_SEED")

	// ── Store ──
	setStr(&cfg.Store.Backend, "CHAINBANDIT_STORE_BACKEND")
	setStr(&cfg.SQLite.Path, "CHAINBANDIT_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CHAINBANDIT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CHAINBANDIT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CHAINBANDIT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CHAINBANDIT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CHAINBANDIT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CHAINBANDIT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CHAINBANDIT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CHAINBANDIT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CHAINBANDIT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CHAINBANDIT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CHAINBANDIT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CHAINBANDIT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHAINBANDIT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHAINBANDIT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHAINBANDIT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CHAINBANDIT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CHAINBANDIT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.EventsChannel, "CHAINBANDIT_REDIS_EVENTS_CHANNEL")
	setStr(&cfg.Redis.EventsStream, "CHAINBANDIT_REDIS_EVENTS_STREAM")
	setDuration(&cfg.Redis.LockTTL, "CHAINBANDIT_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CHAINBANDIT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CHAINBANDIT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CHAINBANDIT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CHAINBANDIT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CHAINBANDIT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CHAINBANDIT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CHAINBANDIT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CHAINBANDIT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ArchiveCron, "CHAINBANDIT_S3_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CHAINBANDIT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CHAINBANDIT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CHAINBANDIT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CHAINBANDIT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "CHAINBANDIT_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CHAINBANDIT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHAINBANDIT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CHAINBANDIT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHAINBANDIT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CHAINBANDIT_MODE")
	setStr(&cfg.LogLevel, "CHAINBANDIT_LOG_LEVEL")
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
