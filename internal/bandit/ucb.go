package bandit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// UCB1 selects chains by the UCB1 rule: every chain is pulled once, then the
// chain maximising mean + sqrt(2 ln N / n) wins. Counts and means live in
// memory only and start cold on every process restart.
type UCB1 struct {
	chains []string
	index  map[string]int
	sink   Sink
	now    func() time.Time
	limit  int

	mu         sync.Mutex
	counts     []int64
	values     []float64
	totalPulls int64
	history    []domain.Decision
	seq        uint64
}

// NewUCB1 creates a UCB1 engine over chains. It returns a
// *ConfigurationError when chains is empty or has duplicates. Only the sink,
// logger, clock and history-limit options apply.
func NewUCB1(chains []string, opts ...Option) (*UCB1, error) {
	roster, err := validateRoster(chains)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	index := make(map[string]int, len(roster))
	for i, c := range roster {
		index[c] = i
	}
	u := &UCB1{
		chains: roster,
		index:  index,
		sink:   o.sink,
		now:    o.now,
		limit:  o.historyLimit,
		counts: make([]int64, len(roster)),
		values: make([]float64, len(roster)),
	}
	u.emit(context.Background(), domain.Event{Kind: domain.EventInit, Chains: u.Roster()})
	return u, nil
}

// Name returns the strategy identifier.
func (u *UCB1) Name() string { return StrategyUCB1 }

// Roster returns a copy of the configured chains.
func (u *UCB1) Roster() []string {
	out := make([]string, len(u.chains))
	copy(out, u.chains)
	return out
}

// ChooseChain returns the first never-pulled chain in roster order, or the
// chain with the highest upper confidence bound once all have been pulled.
func (u *UCB1) ChooseChain(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	scores := u.scores()
	bestIdx := 0
	for i, n := range u.counts {
		if n == 0 {
			bestIdx = i
			break
		}
		if scores[i] > scores[bestIdx] {
			bestIdx = i
		}
	}

	// Unpulled chains have an infinite index; they are left out of the
	// samples and a forced pull records a zero score.
	samples := make([]domain.ChainSample, 0, len(u.chains))
	for i, c := range u.chains {
		if u.counts[i] > 0 {
			samples = append(samples, domain.ChainSample{Chain: c, Value: scores[i]})
		}
	}
	score := scores[bestIdx]
	if math.IsInf(score, 1) {
		score = 0
	}
	confidence := u.meanConfidence()
	chosen := u.chains[bestIdx]

	u.seq++
	u.history = appendBounded(u.history, domain.Decision{
		Seq:              u.seq,
		Chain:            chosen,
		SampledValue:     score,
		Confidence:       confidence,
		ExplorationRatio: 1 - confidence,
		DecidedAt:        u.now(),
	}, u.limit)

	u.emit(ctx, domain.Event{
		Kind:       domain.EventDecision,
		Chosen:     chosen,
		Samples:    samples,
		Confidence: confidence,
	})
	return chosen, nil
}

// Update records a pull of chain with the given reward using an incremental
// mean. Chains outside the roster are ignored.
func (u *UCB1) Update(ctx context.Context, chain string, reward float64) {
	u.mu.Lock()
	i, ok := u.index[chain]
	if !ok {
		u.mu.Unlock()
		u.emit(ctx, domain.Event{Kind: domain.EventUpdateIgnored, Chain: chain, Reward: &reward})
		return
	}
	u.counts[i]++
	u.values[i] += (reward - u.values[i]) / float64(u.counts[i])
	u.totalPulls++
	value := u.values[i]
	u.mu.Unlock()

	u.emit(ctx, domain.Event{
		Kind:             domain.EventUpdate,
		Chain:            chain,
		Success:          reward > 0,
		Reward:           &reward,
		EstimatedWinRate: value,
	})
}

// Observe implements Strategy. A supplied reward is used as-is; otherwise
// success scores 1 and failure 0.
func (u *UCB1) Observe(ctx context.Context, o domain.Outcome) error {
	reward := 0.0
	switch {
	case o.Reward != nil:
		reward = *o.Reward
	case o.Success:
		reward = 1
	}
	u.Update(ctx, o.Chain, reward)
	return nil
}

// State reports each chain's mean reward and pull count. Confidence is
// 1 minus the exploration bonus, floored at zero; unpulled chains have none.
func (u *UCB1) State(_ context.Context) ([]domain.ArmState, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]domain.ArmState, len(u.chains))
	for i, c := range u.chains {
		out[i] = domain.ArmState{
			Chain:            c,
			EstimatedWinRate: u.values[i],
			Confidence:       u.confidence(i),
			Pulls:            u.counts[i],
		}
	}
	return out, nil
}

// BestChain returns the chain with the highest mean reward; the first chain
// in roster order wins ties.
func (u *UCB1) BestChain(_ context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	best := 0
	for i := range u.values {
		if u.values[i] > u.values[best] {
			best = i
		}
	}
	return u.chains[best], nil
}

// ResetChain forgets every pull of chain.
func (u *UCB1) ResetChain(ctx context.Context, chain string) error {
	u.mu.Lock()
	i, ok := u.index[chain]
	if !ok {
		u.mu.Unlock()
		return unknownChainError(chain)
	}
	u.totalPulls -= u.counts[i]
	u.counts[i] = 0
	u.values[i] = 0
	u.mu.Unlock()

	u.emit(ctx, domain.Event{Kind: domain.EventReset, Chain: chain})
	return nil
}

// ResetAll forgets every pull and clears the decision history.
func (u *UCB1) ResetAll(ctx context.Context) error {
	u.mu.Lock()
	for i := range u.chains {
		u.counts[i] = 0
		u.values[i] = 0
	}
	u.totalPulls = 0
	u.history = nil
	u.mu.Unlock()

	u.emit(ctx, domain.Event{Kind: domain.EventReset})
	return nil
}

// DecisionHistory returns a copy of the decisions made since construction
// or the last ResetAll.
func (u *UCB1) DecisionHistory() []domain.Decision {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]domain.Decision, len(u.history))
	copy(out, u.history)
	return out
}

// scores returns the UCB1 index per chain; unpulled chains score +Inf.
// Caller holds u.mu.
func (u *UCB1) scores() []float64 {
	out := make([]float64, len(u.chains))
	for i := range u.chains {
		if u.counts[i] == 0 {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = u.values[i] + u.bonus(i)
	}
	return out
}

func (u *UCB1) bonus(i int) float64 {
	return math.Sqrt(2 * math.Log(float64(u.totalPulls)) / float64(u.counts[i]))
}

func (u *UCB1) confidence(i int) float64 {
	if u.counts[i] == 0 {
		return 0
	}
	return math.Max(0, 1-u.bonus(i))
}

func (u *UCB1) meanConfidence() float64 {
	var sum float64
	for i := range u.chains {
		sum += u.confidence(i)
	}
	return sum / float64(len(u.chains))
}

func (u *UCB1) emit(ctx context.Context, ev domain.Event) {
	ev.Strategy = StrategyUCB1
	ev.At = u.now()
	u.sink.Emit(ctx, ev)
}
