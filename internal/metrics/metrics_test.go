package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

func TestSinkCountsEvents(t *testing.T) {
	s := NewSink(prometheus.NewRegistry())
	ctx := context.Background()

	s.Emit(ctx, domain.Event{Kind: domain.EventDecision, Strategy: "thompson", Chosen: "polygon", Confidence: 0.4})
	s.Emit(ctx, domain.Event{Kind: domain.EventDecision, Strategy: "thompson", Chosen: "polygon", Confidence: 0.5})
	s.Emit(ctx, domain.Event{Kind: domain.EventUpdate, Chain: "polygon", Success: true, EstimatedWinRate: 0.6})
	s.Emit(ctx, domain.Event{Kind: domain.EventUpdate, Chain: "polygon", Success: false, EstimatedWinRate: 0.5})
	s.Emit(ctx, domain.Event{Kind: domain.EventUpdateIgnored, Chain: "solana"})
	s.Emit(ctx, domain.Event{Kind: domain.EventDecay, Factor: 0.9})

	assert.Equal(t, 2.0, testutil.ToFloat64(s.decisions.WithLabelValues("thompson", "polygon")))
	assert.Equal(t, 0.5, testutil.ToFloat64(s.confidence))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.updates.WithLabelValues("polygon", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.updates.WithLabelValues("polygon", "failure")))
	assert.Equal(t, 0.5, testutil.ToFloat64(s.winRate.WithLabelValues("polygon")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.ignored))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.decays))
}

func TestObserveTickAddsProfitOnSuccessOnly(t *testing.T) {
	s := NewSink(prometheus.NewRegistry())
	s.ObserveTick("arbitrum", 200*time.Millisecond, 1.25, true)
	s.ObserveTick("arbitrum", 2*time.Second, 3, false)
	s.ObserveRotation("arbitrum")

	assert.Equal(t, 1.25, testutil.ToFloat64(s.tickProfit.WithLabelValues("arbitrum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.activeRotation.WithLabelValues("arbitrum")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.tickLatency))
}
