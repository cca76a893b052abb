// Package config defines the top-level configuration for chainbandit and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CHAINBANDIT_* environment variables.
type Config struct {
	Bandit    BanditConfig    `toml:"bandit"`
	Loop      LoopConfig      `toml:"loop"`
	Simulator SimulatorConfig `toml:"simulator"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BanditConfig selects the chain roster and the learning strategy.
type BanditConfig struct {
	// Chains is the ordered roster. Order breaks ties and drives UCB1's
	// initial pulls.
	Chains   []string `toml:"chains"`
	Strategy string   `toml:"strategy"`
	// DecayFactor is applied by DecayCron; empty cron disables decay.
	DecayFactor  float64 `toml:"decay_factor"`
	DecayCron    string  `toml:"decay_cron"`
	HistoryLimit int     `toml:"history_limit"`
}

// LoopConfig drives the rotation loop.
type LoopConfig struct {
	TickInterval     duration `toml:"tick_interval"`
	DecisionInterval duration `toml:"decision_interval"`
	MaxLatency       duration `toml:"max_latency"`
	MinProfitUSD     float64  `toml:"min_profit_usd"`
	DryRun           bool     `toml:"dry_run"`
}

// SimulatorConfig parameterises the simulated executors used by the
// simulate mode.
type SimulatorConfig struct {
	WinRates    map[string]float64 `toml:"win_rates"`
	RewardScale float64            `toml:"reward_scale"`
	Seed        uint64             `toml:"seed"`
}

// StoreConfig picks the arm state backend: postgres, sqlite or memory.
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// SQLiteConfig holds the local database path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters and the channels bandit
// events are published to.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	KeyPrefix     string   `toml:"key_prefix"`
	EventsChannel string   `toml:"events_channel"`
	EventsStream  string   `toml:"events_stream"`
	StreamMaxLen  int64    `toml:"stream_max_len"`
	LockTTL       duration `toml:"lock_ttl"`
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
	ArchiveCron    string `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "700ms", "5s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMinute caps state-changing requests per client. Needs
	// redis; 0 disables.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
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
		Bandit: BanditConfig{
			Chains:      []string{"ethereum", "polygon", "arbitrum"},
			Strategy:    "thompson",
			DecayFactor: 0.95,
			DecayCron:   "0 0 * * * *",
		},
		Loop: LoopConfig{
			TickInterval:     duration{700 * time.Millisecond},
			DecisionInterval: duration{5 * time.Second},
			MaxLatency:       duration{1500 * time.Millisecond},
			MinProfitUSD:     0.50,
		},
		Simulator: SimulatorConfig{
			WinRates: map[string]float64{
				"ethereum": 0.30,
				"polygon":  0.55,
				"arbitrum": 0.45,
			},
			RewardScale: 2.0,
		},
		Store: StoreConfig{Backend: "sqlite"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "data/chainbandit.db"},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			KeyPrefix:     "chainbandit",
			EventsChannel: "chainbandit:events",
			EventsStream:  "chainbandit:events:stream",
			StreamMaxLen:  10000,
			LockTTL:       duration{5 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "chainbandit-data",
			ForcePathStyle: true,
			ArchiveCron:    "0 */15 * * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"chain_rotated", "bandit_reset", "shutdown"},
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":      true,
	"simulate": true,
	"server":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[string]bool{
	"thompson": true,
	"ucb1":     true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, simulate, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bandit
	if len(c.Bandit.Chains) == 0 {
		errs = append(errs, "bandit: chains must not be empty")
	}
	seen := make(map[string]bool, len(c.Bandit.Chains))
	for _, ch := range c.Bandit.Chains {
		switch {
		case strings.TrimSpace(ch) == "":
			errs = append(errs, "bandit: chain ids must not be blank")
		case seen[ch]:
			errs = append(errs, fmt.Sprintf("bandit: duplicate chain %q", ch))
		}
		seen[ch] = true
	}
	if !validStrategies[strings.ToLower(c.Bandit.Strategy)] {
		errs = append(errs, fmt.Sprintf("bandit: unknown strategy %q (valid: thompson, ucb1)", c.Bandit.Strategy))
	}
	if c.Bandit.DecayCron != "" && !(c.Bandit.DecayFactor > 0 && c.Bandit.DecayFactor <= 1) {
		errs = append(errs, fmt.Sprintf("bandit: decay_factor must be in (0,1], got %v", c.Bandit.DecayFactor))
	}
	if c.Bandit.HistoryLimit < 0 {
		errs = append(errs, "bandit: history_limit must be >= 0")
	}

	// Loop
	if c.Loop.TickInterval.Duration <= 0 {
		errs = append(errs, "loop: tick_interval must be > 0")
	}
	if c.Loop.DecisionInterval.Duration < c.Loop.TickInterval.Duration {
		errs = append(errs, "loop: decision_interval must be >= tick_interval")
	}
	if c.Loop.MaxLatency.Duration <= 0 {
		errs = append(errs, "loop: max_latency must be > 0")
	}

	// Simulator
	if strings.EqualFold(c.Mode, "simulate") {
		for chain, p := range c.Simulator.WinRates {
			if math.IsNaN(p) || p < 0 || p > 1 {
				errs = append(errs, fmt.Sprintf("simulator: win_rates[%s] must be in [0,1], got %v", chain, p))
			}
		}
		if c.Simulator.RewardScale <= 0 {
			errs = append(errs, "simulator: reward_scale must be > 0")
		}
	}

	// Store
	backend := strings.ToLower(c.Store.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, sqlite, memory)", c.Store.Backend))
	}
	if backend == "postgres" {
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
	if backend == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveCron == "" {
			errs = append(errs, "s3: archive_cron must not be empty when s3 is enabled")
		}
	}

	// Server
	if c.Server.Enabled || strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server: rate_limit_per_minute must be >= 0")
	}
	if c.Server.RateLimitPerMinute > 0 && !c.Redis.Enabled {
		errs = append(errs, "server: rate_limit_per_minute requires redis.enabled")
	}

	// Notify: chat id without token (or vice versa) is a misconfiguration.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
