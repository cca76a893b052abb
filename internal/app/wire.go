package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/chainbandit/internal/bandit"
	s3blob "github.com/alanyoungcy/chainbandit/internal/blob/s3"
	"github.com/alanyoungcy/chainbandit/internal/cache/redis"
	"github.com/alanyoungcy/chainbandit/internal/config"
	"github.com/alanyoungcy/chainbandit/internal/domain"
	"github.com/alanyoungcy/chainbandit/internal/metrics"
	"github.com/alanyoungcy/chainbandit/internal/notify"
	"github.com/alanyoungcy/chainbandit/internal/server/handler"
	"github.com/alanyoungcy/chainbandit/internal/server/ws"
	"github.com/alanyoungcy/chainbandit/internal/store/memory"
	"github.com/alanyoungcy/chainbandit/internal/store/postgres"
	"github.com/alanyoungcy/chainbandit/internal/store/sqlite"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Strategy bandit.Strategy

	// Stores
	ArmStore   domain.ArmStore
	AuditStore domain.AuditStore // nil for the memory backend

	// Redis; nil unless redis.enabled
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Archiver is nil unless s3.enabled.
	Archiver *s3blob.DecisionArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Sink
	Registry *prometheus.Registry
	Hub      *ws.Hub

	// Checks feed GET /api/health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Arm store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool := pgClient.Pool()
		deps.ArmStore = postgres.NewArmStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.ArmStore = sqlite.NewArmStore(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
		deps.Checks["sqlite"] = db.PingContext

	default:
		deps.ArmStore = memory.NewArmStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 decision archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewDecisionArchiver(s3blob.NewWriter(s3Client), deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.NewSink(deps.Registry)

	// --- Event hub and strategy ---
	// With a bus the hub relays the events channel so every process's
	// events reach clients; without one it is fed directly.
	deps.Hub = ws.NewHub(deps.SignalBus, cfg.Redis.EventsChannel, ws.Config{
		Mode:     cfg.Mode,
		Strategy: cfg.Bandit.Strategy,
		Chains:   cfg.Bandit.Chains,
	}, logger)

	strategy, err := NewStrategy(cfg, deps, logger)
	if err != nil {
		return fail("strategy", err)
	}
	deps.Strategy = strategy

	return deps, cleanup, nil
}

// Sinks assembles the observability fan-out for the bandit engine.
func Sinks(cfg *config.Config, deps *Dependencies, logger *slog.Logger) bandit.MultiSink {
	sinks := bandit.MultiSink{bandit.NewSlogSink(logger), deps.Metrics}
	if deps.SignalBus != nil {
		sinks = append(sinks, bandit.NewBusSink(deps.SignalBus, cfg.Redis.EventsChannel, cfg.Redis.EventsStream, logger))
	} else if deps.Hub != nil {
		sinks = append(sinks, deps.Hub)
	}
	if deps.AuditStore != nil {
		sinks = append(sinks, bandit.NewAuditSink(deps.AuditStore, logger))
	}
	if deps.Notifier.Enabled() {
		sinks = append(sinks, notify.NewEventSink(deps.Notifier))
	}
	return sinks
}

// NewStrategy builds the configured engine over deps' store and sinks.
func NewStrategy(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (bandit.Strategy, error) {
	opts := []bandit.Option{
		bandit.WithLogger(logger),
		bandit.WithSink(Sinks(cfg, deps, logger)),
		bandit.WithHistoryLimit(cfg.Bandit.HistoryLimit),
	}
	if deps.LockManager != nil {
		opts = append(opts, bandit.WithLocker(deps.LockManager, cfg.Redis.LockTTL.Duration))
	}

	switch strings.ToLower(cfg.Bandit.Strategy) {
	case bandit.StrategyUCB1:
		return bandit.NewUCB1(cfg.Bandit.Chains, opts...)
	case bandit.StrategyThompson:
		return bandit.NewThompson(cfg.Bandit.Chains, deps.ArmStore, opts...)
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Bandit.Strategy)
	}
}
