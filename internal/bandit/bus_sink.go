package bandit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// BusSink publishes every event as JSON on a pub/sub channel and appends it
// to a stream. Either target may be empty to skip it.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewBusSink creates a BusSink on bus.
func NewBusSink(bus domain.SignalBus, channel, stream string, logger *slog.Logger) *BusSink {
	return &BusSink{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(slog.String("component", "bandit_bus")),
	}
}

// Emit publishes ev. Failures are logged and dropped.
func (s *BusSink) Emit(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
		return
	}
	if s.channel != "" {
		if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
			s.logger.WarnContext(ctx, "publish event failed", slog.String("channel", s.channel), slog.String("error", err.Error()))
		}
	}
	if s.stream != "" {
		if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
			s.logger.WarnContext(ctx, "append event failed", slog.String("stream", s.stream), slog.String("error", err.Error()))
		}
	}
}
