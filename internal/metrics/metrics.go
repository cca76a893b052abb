// Package metrics exposes bandit activity as Prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// Sink records bandit events as Prometheus metrics. It satisfies
// bandit.Sink.
type Sink struct {
	decisions      *prometheus.CounterVec
	updates        *prometheus.CounterVec
	ignored        prometheus.Counter
	winRate        *prometheus.GaugeVec
	confidence     prometheus.Gauge
	resets         prometheus.Counter
	decays         prometheus.Counter
	tickLatency    *prometheus.HistogramVec
	tickProfit     *prometheus.CounterVec
	activeRotation *prometheus.CounterVec
}

// NewSink registers the bandit collectors on reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewSink(reg prometheus.Registerer) *Sink {
	f := promauto.With(reg)
	return &Sink{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbandit_decisions_total",
			Help: "Chain selections by chosen chain",
		}, []string{"strategy", "chain"}),
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbandit_updates_total",
			Help: "Outcome updates by chain and result",
		}, []string{"chain", "outcome"}),
		ignored: f.NewCounter(prometheus.CounterOpts{
			Name: "chainbandit_updates_ignored_total",
			Help: "Updates for chains outside the roster",
		}),
		winRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chainbandit_arm_win_rate",
			Help: "Estimated win rate of each chain after its last update",
		}, []string{"chain"}),
		confidence: f.NewGauge(prometheus.GaugeOpts{
			Name: "chainbandit_decision_confidence",
			Help: "Mean arm confidence at the last decision",
		}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Name: "chainbandit_resets_total",
			Help: "Arm resets",
		}),
		decays: f.NewCounter(prometheus.CounterOpts{
			Name: "chainbandit_decays_total",
			Help: "Decay passes applied",
		}),
		tickLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainbandit_tick_latency_seconds",
			Help:    "Executor tick latency by chain",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6.4s
		}, []string{"chain"}),
		tickProfit: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbandit_profit_usd_total",
			Help: "Net profit of successful ticks by chain",
		}, []string{"chain"}),
		activeRotation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbandit_rotations_total",
			Help: "Active chain switches by destination chain",
		}, []string{"to"}),
	}
}

// Emit implements bandit.Sink.
func (s *Sink) Emit(_ context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventDecision:
		s.decisions.WithLabelValues(ev.Strategy, ev.Chosen).Inc()
		s.confidence.Set(ev.Confidence)
	case domain.EventUpdate:
		outcome := "failure"
		if ev.Success {
			outcome = "success"
		}
		s.updates.WithLabelValues(ev.Chain, outcome).Inc()
		s.winRate.WithLabelValues(ev.Chain).Set(ev.EstimatedWinRate)
	case domain.EventUpdateIgnored:
		s.ignored.Inc()
	case domain.EventReset:
		s.resets.Inc()
	case domain.EventDecay:
		s.decays.Inc()
	}
}

// ObserveTick records one executor tick.
func (s *Sink) ObserveTick(chain string, latency time.Duration, profitUSD float64, success bool) {
	s.tickLatency.WithLabelValues(chain).Observe(latency.Seconds())
	if success && profitUSD > 0 {
		s.tickProfit.WithLabelValues(chain).Add(profitUSD)
	}
}

// ObserveRotation records a switch of the active chain.
func (s *Sink) ObserveRotation(to string) {
	s.activeRotation.WithLabelValues(to).Inc()
}
