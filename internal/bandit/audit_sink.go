package bandit

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// AuditSink records state-changing events in an audit log. Decisions and
// init are skipped; they are frequent and carry no state change.
type AuditSink struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditSink creates an AuditSink on store.
func NewAuditSink(store domain.AuditStore, logger *slog.Logger) *AuditSink {
	return &AuditSink{store: store, logger: logger.With(slog.String("component", "bandit_audit"))}
}

// Emit logs ev to the audit store.
func (s *AuditSink) Emit(ctx context.Context, ev domain.Event) {
	detail := map[string]any{"strategy": ev.Strategy}
	switch ev.Kind {
	case domain.EventUpdate, domain.EventUpdateIgnored:
		detail["chain"] = ev.Chain
		detail["success"] = ev.Success
		if ev.Reward != nil {
			detail["reward"] = *ev.Reward
		}
		if ev.Kind == domain.EventUpdate {
			detail["new_alpha"] = ev.NewAlpha
			detail["new_beta"] = ev.NewBeta
		}
	case domain.EventReset:
		detail["chain"] = ev.Chain
	case domain.EventDecay:
		detail["factor"] = ev.Factor
	default:
		return
	}

	if err := s.store.Log(ctx, "bandit."+string(ev.Kind), detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
	}
}
