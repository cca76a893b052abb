package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// EventSink forwards bandit maintenance events (resets and decay) to a
// Notifier. It satisfies bandit.Sink.
type EventSink struct {
	n *Notifier
}

// NewEventSink wraps n.
func NewEventSink(n *Notifier) *EventSink {
	return &EventSink{n: n}
}

// Emit notifies on reset and decay; other kinds are ignored. Send failures
// are already logged by the Notifier.
func (s *EventSink) Emit(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventReset:
		target := ev.Chain
		if target == "" {
			target = "all chains"
		}
		_ = s.n.Notify(ctx, EventReset, "Bandit reset", fmt.Sprintf("%s reset to prior (%s)", target, ev.Strategy))
	case domain.EventDecay:
		_ = s.n.Notify(ctx, EventDecay, "Bandit decay", fmt.Sprintf("arms decayed toward prior by factor %.3f", ev.Factor))
	}
}
