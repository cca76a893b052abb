package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainbandit/internal/bandit"
	"github.com/alanyoungcy/chainbandit/internal/notify"
	"github.com/alanyoungcy/chainbandit/internal/rotation"
	"github.com/alanyoungcy/chainbandit/internal/server"
	"github.com/alanyoungcy/chainbandit/internal/server/handler"
)

const shutdownTimeout = 5 * time.Second

// RunMode serves the engine to external trading loops: maintenance jobs
// plus the HTTP API, through which outcomes are reported.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "run mode: scheduler + API")
	g, ctx := errgroup.WithContext(ctx)

	if err := a.startScheduler(ctx, g, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// SimulateMode runs the rotation loop against simulated executors, with
// maintenance jobs and, when enabled, the HTTP API.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "simulate mode: rotation loop on simulated executors")
	g, ctx := errgroup.WithContext(ctx)

	rot, err := a.newRotator(deps)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return rot.Run(ctx)
	})

	if err := a.startScheduler(ctx, g, deps); err != nil {
		return err
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	err = g.Wait()
	a.notifyShutdown(deps, rot)
	return err
}

// ServerMode exposes the HTTP API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "server mode: API only")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) newRotator(deps *Dependencies) (*rotation.Rotator, error) {
	seed := a.cfg.Simulator.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sim := rotation.NewSimulatedExecutor(a.cfg.Simulator.WinRates, a.cfg.Simulator.RewardScale, rand.NewPCG(seed, seed>>1|1))

	executors := make(map[string]rotation.Executor, len(a.cfg.Simulator.WinRates))
	for _, chain := range sim.Chains() {
		executors[chain] = sim
	}

	rot, err := rotation.New(deps.Strategy, executors, rotation.Config{
		TickInterval:     a.cfg.Loop.TickInterval.Duration,
		DecisionInterval: a.cfg.Loop.DecisionInterval.Duration,
		MaxLatency:       a.cfg.Loop.MaxLatency.Duration,
		MinProfitUSD:     a.cfg.Loop.MinProfitUSD,
		DryRun:           a.cfg.Loop.DryRun,
	}, a.logger, rotation.WithNotifier(deps.Notifier), rotation.WithObserver(deps.Metrics))
	if err != nil {
		return nil, fmt.Errorf("app: rotator: %w", err)
	}
	return rot, nil
}

// startScheduler adds the cron-driven maintenance jobs to g. Decay needs a
// strategy that supports it; archiving needs s3.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	sched := rotation.NewScheduler(deps.Strategy, a.logger)

	if spec := a.cfg.Bandit.DecayCron; spec != "" {
		if _, ok := deps.Strategy.(bandit.Decayer); ok {
			if err := sched.ScheduleDecay(spec, a.cfg.Bandit.DecayFactor); err != nil {
				return fmt.Errorf("app: %w", err)
			}
		} else {
			a.logger.WarnContext(ctx, "decay_cron ignored; strategy does not decay",
				slog.String("strategy", deps.Strategy.Name()))
		}
	}
	if deps.Archiver != nil {
		if err := sched.ScheduleArchive(a.cfg.S3.ArchiveCron, deps.Archiver); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	if len(sched.Jobs()) == 0 {
		return nil
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})
	return nil
}

// startHTTPServer adds the API server and the event hub to g. The server is
// shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	h := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Bandit:  handler.NewBanditHandler(deps.Strategy, a.logger),
		WS:      deps.Hub,
		Metrics: deps.Registry,
	}
	if deps.AuditStore != nil {
		h.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimitPerMinute,
	}, h, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// notifyShutdown sends the final per-chain tally to every notifier channel.
func (a *App) notifyShutdown(deps *Dependencies, rot *rotation.Rotator) {
	if !deps.Notifier.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	msg := ""
	for _, s := range rot.Stats() {
		msg += fmt.Sprintf("%s: %d ticks, %d wins, $%.2f net\n", s.Chain, s.Ticks, s.Successes, s.NetProfitUSD)
	}
	if msg == "" {
		msg = "no ticks recorded"
	}
	if err := deps.Notifier.Notify(ctx, notify.EventShutdown, "chainbandit stopped", msg); err != nil {
		a.logger.Warn("shutdown notification failed", slog.String("error", err.Error()))
	}
}
