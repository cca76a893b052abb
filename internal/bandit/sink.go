package bandit

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// Sink receives structured bandit events. Emit must not block for long; the
// engine calls it synchronously on the decision path. Sinks report their
// own failures; the engine never fails an operation because a sink did.
type Sink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev domain.Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev domain.Event) {
	f(ctx, ev)
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

// Emit forwards ev to each non-nil sink.
func (m MultiSink) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// SlogSink writes events to a structured logger. Decisions are logged at
// debug level since they happen every cycle.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink tagged with component=bandit.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.With(slog.String("component", "bandit"))}
}

// Emit logs ev.
func (s *SlogSink) Emit(ctx context.Context, ev domain.Event) {
	l := s.logger.With(slog.String("strategy", ev.Strategy))

	switch ev.Kind {
	case domain.EventInit:
		l.InfoContext(ctx, "bandit initialized",
			slog.Any("chains", ev.Chains),
		)
	case domain.EventDecision:
		parts := make([]string, 0, len(ev.Samples))
		for _, smp := range ev.Samples {
			parts = append(parts, smp.Chain+":"+formatFloat(smp.Value, 3))
		}
		l.DebugContext(ctx, "chain selected",
			slog.String("chosen", ev.Chosen),
			slog.String("samples", strings.Join(parts, ", ")),
			slog.Float64("confidence", ev.Confidence),
		)
	case domain.EventUpdate:
		attrs := []any{
			slog.String("chain", ev.Chain),
			slog.Bool("success", ev.Success),
			slog.Float64("new_alpha", ev.NewAlpha),
			slog.Float64("new_beta", ev.NewBeta),
			slog.String("estimated_win_rate", formatFloat(ev.EstimatedWinRate*100, 1)+"%"),
		}
		if ev.Reward != nil {
			attrs = append(attrs, slog.Float64("reward", *ev.Reward))
		}
		l.InfoContext(ctx, "bandit updated", attrs...)
	case domain.EventUpdateIgnored:
		l.WarnContext(ctx, "update for chain outside roster ignored",
			slog.String("chain", ev.Chain),
			slog.Bool("success", ev.Success),
		)
	case domain.EventReset:
		if ev.Chain == "" {
			l.InfoContext(ctx, "all chains reset")
			return
		}
		l.InfoContext(ctx, "chain reset", slog.String("chain", ev.Chain))
	case domain.EventDecay:
		l.InfoContext(ctx, "applied decay to all arms", slog.Float64("factor", ev.Factor))
	default:
		l.InfoContext(ctx, "bandit event", slog.String("kind", string(ev.Kind)))
	}
}
