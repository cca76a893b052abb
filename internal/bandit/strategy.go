// Package bandit implements the chain-selection engines: Thompson Sampling
// over per-chain Beta posteriors backed by an arm store, and an in-memory
// UCB1 alternative. Both satisfy Strategy so the rotation loop can swap them.
package bandit

import (
	"context"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// Strategy is the capability shared by every chain-selection engine.
type Strategy interface {
	Name() string
	Roster() []string
	ChooseChain(ctx context.Context) (string, error)
	// Observe feeds back the outcome of a trade attempt. Outcomes for chains
	// outside the roster are ignored and do not return an error.
	Observe(ctx context.Context, outcome domain.Outcome) error
	State(ctx context.Context) ([]domain.ArmState, error)
	BestChain(ctx context.Context) (string, error)
}

// Resetter is implemented by strategies whose learning can be wiped.
type Resetter interface {
	ResetChain(ctx context.Context, chain string) error
	ResetAll(ctx context.Context) error
}

// Decayer is implemented by strategies that can discount old evidence.
type Decayer interface {
	Decay(ctx context.Context, factor float64) error
}

// HistoryRecorder is implemented by strategies that keep decision history.
type HistoryRecorder interface {
	DecisionHistory() []domain.Decision
}

const (
	StrategyThompson = "thompson"
	StrategyUCB1     = "ucb1"
)

var (
	_ Strategy        = (*Thompson)(nil)
	_ Resetter        = (*Thompson)(nil)
	_ Decayer         = (*Thompson)(nil)
	_ HistoryRecorder = (*Thompson)(nil)
	_ Strategy        = (*UCB1)(nil)
	_ Resetter        = (*UCB1)(nil)
	_ HistoryRecorder = (*UCB1)(nil)
)
