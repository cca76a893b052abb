package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/alanyoungcy/chainbandit/internal/bandit"
	"github.com/alanyoungcy/chainbandit/internal/domain"
)

const jobTimeout = 2 * time.Minute

// Archiver ships decision history and state snapshots to cold storage.
type Archiver interface {
	Archive(ctx context.Context, decisions []domain.Decision) (int, string, error)
	Snapshot(ctx context.Context, states []domain.ArmState) (string, error)
}

// Scheduler runs periodic bandit maintenance on cron expressions with a
// seconds field: decay toward the prior and archiving.
type Scheduler struct {
	cron     *rcron.Cron
	strategy bandit.Strategy
	logger   *slog.Logger

	mu   sync.Mutex
	jobs []string
}

// NewScheduler creates an idle Scheduler for strategy.
func NewScheduler(strategy bandit.Strategy, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     rcron.New(rcron.WithSeconds()),
		strategy: strategy,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// ScheduleDecay decays the strategy by factor on spec. It fails when the
// strategy cannot decay or spec does not parse.
func (s *Scheduler) ScheduleDecay(spec string, factor float64) error {
	d, ok := s.strategy.(bandit.Decayer)
	if !ok {
		return fmt.Errorf("rotation: strategy %s does not support decay", s.strategy.Name())
	}
	return s.add("decay", spec, func(ctx context.Context) error {
		return d.Decay(ctx, factor)
	})
}

// ScheduleArchive archives new decisions and a state snapshot on spec.
func (s *Scheduler) ScheduleArchive(spec string, a Archiver) error {
	h, ok := s.strategy.(bandit.HistoryRecorder)
	if !ok {
		return fmt.Errorf("rotation: strategy %s keeps no decision history", s.strategy.Name())
	}
	return s.add("archive", spec, func(ctx context.Context) error {
		n, path, err := a.Archive(ctx, h.DecisionHistory())
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.InfoContext(ctx, "archived decisions", slog.Int("count", n), slog.String("path", path))
		}
		states, err := s.strategy.State(ctx)
		if err != nil {
			return err
		}
		_, err = a.Snapshot(ctx, states)
		return err
	})
}

// Jobs returns the names of scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.jobs...)
}

// Run starts the cron and blocks until ctx is done, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.Any("jobs", s.Jobs()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) add(name, spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() { s.runJob(name, job) })
	if err != nil {
		return fmt.Errorf("rotation: schedule %s %q: %w", name, spec, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, name)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runJob(name string, job func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("scheduled job failed", slog.String("job", name), slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("scheduled job done", slog.String("job", name), slog.Duration("took", time.Since(start)))
}
