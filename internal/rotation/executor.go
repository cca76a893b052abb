package rotation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// TickResult is what one scan of a chain's routes produced.
type TickResult struct {
	ProfitNetUSD float64
	GasUSD       float64
	Latency      time.Duration
}

// Executor scans a chain for an arbitrage opportunity. Implementations
// that trade for real live outside this module; the loop only needs the
// outcome.
type Executor interface {
	Tick(ctx context.Context, chain string) (TickResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, chain string) (TickResult, error)

// Tick calls f.
func (f ExecutorFunc) Tick(ctx context.Context, chain string) (TickResult, error) {
	return f(ctx, chain)
}

// SimulatedExecutor draws Bernoulli outcomes with a fixed win rate per
// chain. Wins earn between 0.5 and 1.5 times rewardScale USD; losses pay
// gas only.
type SimulatedExecutor struct {
	winRates    map[string]float64
	rewardScale float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedExecutor creates a simulator. rewardScale <= 0 means 1.
func NewSimulatedExecutor(winRates map[string]float64, rewardScale float64, src rand.Source) *SimulatedExecutor {
	if rewardScale <= 0 {
		rewardScale = 1
	}
	rates := make(map[string]float64, len(winRates))
	for c, p := range winRates {
		rates[c] = p
	}
	return &SimulatedExecutor{winRates: rates, rewardScale: rewardScale, rng: rand.New(src)}
}

// Chains returns the chains the simulator knows.
func (s *SimulatedExecutor) Chains() []string {
	out := make([]string, 0, len(s.winRates))
	for c := range s.winRates {
		out = append(out, c)
	}
	return out
}

// Tick simulates one scan on chain.
func (s *SimulatedExecutor) Tick(ctx context.Context, chain string) (TickResult, error) {
	if err := ctx.Err(); err != nil {
		return TickResult{}, err
	}
	p, ok := s.winRates[chain]
	if !ok {
		return TickResult{}, fmt.Errorf("rotation: simulate %s: %w", chain, domain.ErrUnknownChain)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gas := 0.02 + 0.08*s.rng.Float64()
	latency := time.Duration(100+s.rng.IntN(900)) * time.Millisecond
	if s.rng.Float64() < p {
		return TickResult{
			ProfitNetUSD: s.rewardScale * (0.5 + s.rng.Float64()),
			GasUSD:       gas,
			Latency:      latency,
		}, nil
	}
	return TickResult{ProfitNetUSD: -gas, GasUSD: gas, Latency: latency}, nil
}
