// Package rotation drives the arbitrage loop: it asks a bandit strategy
// which chain to trade on, ticks that chain's executor, and feeds every
// outcome back into the strategy.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/bandit"
	"github.com/alanyoungcy/chainbandit/internal/domain"
	"github.com/alanyoungcy/chainbandit/internal/notify"
)

const summaryTimeout = 5 * time.Second

// Config controls loop timing and the success rule.
type Config struct {
	TickInterval     time.Duration
	DecisionInterval time.Duration
	// MaxLatency is the slowest tick that still counts as a success.
	MaxLatency   time.Duration
	MinProfitUSD float64
	DryRun       bool
}

// Notifier sends operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Observer receives per-tick measurements, typically metrics.Sink.
type Observer interface {
	ObserveTick(chain string, latency time.Duration, profitUSD float64, success bool)
	ObserveRotation(to string)
}

// ChainStats summarises the loop's activity on one chain.
type ChainStats struct {
	Chain         string  `json:"chain"`
	Ticks         int64   `json:"ticks"`
	Successes     int64   `json:"successes"`
	Errors        int64   `json:"errors"`
	Opportunities int64   `json:"opportunities"`
	NetProfitUSD  float64 `json:"net_profit_usd"`
}

// Rotator owns the active chain.
type Rotator struct {
	strategy  bandit.Strategy
	executors map[string]Executor
	cfg       Config
	logger    *slog.Logger
	notifier  Notifier
	observer  Observer
	now       func() time.Time

	mu           sync.Mutex
	current      string
	nextDecision time.Time
	ticks        int64
	stats        map[string]*ChainStats
}

// Option customises a Rotator.
type Option func(*Rotator)

// WithNotifier alerts on chain rotations.
func WithNotifier(n Notifier) Option { return func(r *Rotator) { r.notifier = n } }

// WithObserver records tick measurements.
func WithObserver(o Observer) Option { return func(r *Rotator) { r.observer = o } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Rotator) { r.now = now } }

// New creates a Rotator. executors maps chain to its executor; chains with
// none are skipped when chosen.
func New(strategy bandit.Strategy, executors map[string]Executor, cfg Config, logger *slog.Logger, opts ...Option) (*Rotator, error) {
	if strategy == nil {
		return nil, errors.New("rotation: strategy is required")
	}
	if len(executors) == 0 {
		return nil, errors.New("rotation: at least one executor is required")
	}
	if cfg.TickInterval <= 0 || cfg.DecisionInterval <= 0 {
		return nil, fmt.Errorf("rotation: tick (%s) and decision (%s) intervals must be positive", cfg.TickInterval, cfg.DecisionInterval)
	}

	r := &Rotator{
		strategy:  strategy,
		executors: executors,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "rotator")),
		now:       time.Now,
		stats:     make(map[string]*ChainStats),
	}
	for _, o := range opts {
		o(r)
	}
	for _, c := range strategy.Roster() {
		if _, ok := executors[c]; !ok {
			r.logger.Warn("no executor for chain; it will be skipped", slog.String("chain", c))
		}
	}
	return r, nil
}

// Run ticks until ctx is cancelled, then logs the final per-chain summary.
func (r *Rotator) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "rotation loop starting",
		slog.String("strategy", r.strategy.Name()),
		slog.Any("chains", r.strategy.Roster()),
		slog.Bool("dry_run", r.cfg.DryRun),
		slog.Float64("min_profit_usd", r.cfg.MinProfitUSD),
	)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	r.Step(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logSummary()
			return nil
		case <-ticker.C:
			r.Step(ctx)
		}
	}
}

// Step runs one loop iteration: rotate if a decision is due, then tick the
// active chain and report the outcome.
func (r *Rotator) Step(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	due := r.current == "" || !now.Before(r.nextDecision)
	r.mu.Unlock()
	if due {
		r.rotate(ctx, now)
	}

	r.mu.Lock()
	chain := r.current
	r.ticks++
	r.mu.Unlock()
	if chain == "" {
		return
	}

	exec, ok := r.executors[chain]
	if !ok {
		r.logger.DebugContext(ctx, "no executor for active chain", slog.String("chain", chain))
		return
	}

	res, err := exec.Tick(ctx, chain)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.ErrorContext(ctx, "worker tick error", slog.String("chain", chain), slog.String("error", err.Error()))
		r.record(chain, func(s *ChainStats) { s.Ticks++; s.Errors++ })
		r.observe(ctx, domain.Outcome{Chain: chain, Success: false})
		return
	}

	success := res.ProfitNetUSD > 0 && res.Latency < r.cfg.MaxLatency
	outcome := domain.Outcome{Chain: chain, Success: success}
	if success {
		outcome.Reward = domain.Reward(res.ProfitNetUSD)
	}
	r.record(chain, func(s *ChainStats) {
		s.Ticks++
		s.NetProfitUSD += res.ProfitNetUSD
		if success {
			s.Successes++
		}
	})
	if r.observer != nil {
		r.observer.ObserveTick(chain, res.Latency, res.ProfitNetUSD, success)
	}
	r.observe(ctx, outcome)

	if res.ProfitNetUSD > r.cfg.MinProfitUSD {
		r.record(chain, func(s *ChainStats) { s.Opportunities++ })
		r.logger.InfoContext(ctx, "profitable opportunity found",
			slog.String("chain", chain),
			slog.String("profit_usd", fmt.Sprintf("%.4f", res.ProfitNetUSD)),
			slog.String("gas_usd", fmt.Sprintf("%.4f", res.GasUSD)),
			slog.Bool("dry_run", r.cfg.DryRun),
		)
	}
}

// Current returns the active chain, empty before the first decision.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stats returns per-chain activity sorted by chain.
func (r *Rotator) Stats() []ChainStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChainStats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

func (r *Rotator) rotate(ctx context.Context, now time.Time) {
	next, err := r.strategy.ChooseChain(ctx)

	r.mu.Lock()
	r.nextDecision = now.Add(r.cfg.DecisionInterval)
	prev := r.current
	if err != nil {
		r.mu.Unlock()
		// Keep trading on the previous chain until the store recovers.
		r.logger.ErrorContext(ctx, "choose chain failed", slog.String("keeping", prev), slog.String("error", err.Error()))
		return
	}
	r.current = next
	r.mu.Unlock()

	if prev == next {
		return
	}
	if prev == "" {
		r.logger.InfoContext(ctx, "starting on chain", slog.String("chain", next))
		return
	}

	r.logger.InfoContext(ctx, "rotated chain", slog.String("from", prev), slog.String("to", next))
	if r.observer != nil {
		r.observer.ObserveRotation(next)
	}
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, notify.EventChainRotated, "Chain rotated", fmt.Sprintf("%s -> %s", prev, next))
	}
}

func (r *Rotator) observe(ctx context.Context, o domain.Outcome) {
	if err := r.strategy.Observe(ctx, o); err != nil {
		r.logger.ErrorContext(ctx, "bandit update failed", slog.String("chain", o.Chain), slog.String("error", err.Error()))
	}
}

func (r *Rotator) record(chain string, fn func(*ChainStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[chain]
	if !ok {
		s = &ChainStats{Chain: chain}
		r.stats[chain] = s
	}
	fn(s)
}

func (r *Rotator) logSummary() {
	r.mu.Lock()
	ticks := r.ticks
	r.mu.Unlock()

	r.logger.Info("rotation loop stopped", slog.Int64("ticks", ticks))

	// The run context is already cancelled here.
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()
	if states, err := r.strategy.State(ctx); err != nil {
		r.logger.Warn("final bandit state unavailable", slog.String("error", err.Error()))
	} else {
		for _, st := range states {
			r.logger.Info("final bandit state",
				slog.String("chain", st.Chain),
				slog.Float64("alpha", st.Alpha),
				slog.Float64("beta", st.Beta),
				slog.String("estimated_win_rate", fmt.Sprintf("%.1f%%", st.EstimatedWinRate*100)),
				slog.Int64("pulls", st.Pulls),
			)
		}
	}

	for _, s := range r.Stats() {
		r.logger.Info("final chain statistics",
			slog.String("chain", s.Chain),
			slog.Int64("ticks", s.Ticks),
			slog.Int64("successes", s.Successes),
			slog.Int64("errors", s.Errors),
			slog.String("net_profit_usd", fmt.Sprintf("%.4f", s.NetProfitUSD)),
		)
	}
}
