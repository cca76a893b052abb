package bandit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

const (
	// maxRewardBonus caps the extra alpha a single rewarded success adds.
	maxRewardBonus = 0.5
	// rewardBonusDivisor scales reward into alpha: bonus = reward/10.
	rewardBonusDivisor = 10.0

	allArmsLock = "bandit:arms"

	lockAttempts = 20
	lockBackoff  = 25 * time.Millisecond
)

// Thompson selects chains by Thompson Sampling over Beta posteriors kept in
// an arm store. The roster is fixed at construction.
type Thompson struct {
	chains  []string
	inSet   map[string]struct{}
	repo    *Repository
	sampler *Sampler
	sink    Sink
	locker  domain.LockManager
	lockTTL time.Duration
	now     func() time.Time
	limit   int

	mu      sync.Mutex // guards sampler and history
	history []domain.Decision
	seq     uint64

	writeMu sync.Mutex // serializes arm read-modify-write in this process
}

// NewThompson creates a Thompson engine over chains backed by store. It
// returns a *ConfigurationError when chains is empty or has duplicates.
func NewThompson(chains []string, store domain.ArmStore, opts ...Option) (*Thompson, error) {
	roster, err := validateRoster(chains)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, configErrorf("arm store is required")
	}

	o := buildOptions(opts)
	inSet := make(map[string]struct{}, len(roster))
	for _, c := range roster {
		inSet[c] = struct{}{}
	}

	t := &Thompson{
		chains:  roster,
		inSet:   inSet,
		repo:    NewRepository(store, o.now),
		sampler: NewSampler(o.source),
		sink:    o.sink,
		locker:  o.locker,
		lockTTL: o.lockTTL,
		now:     o.now,
		limit:   o.historyLimit,
	}

	t.emit(context.Background(), domain.Event{
		Kind:   domain.EventInit,
		Chains: t.Roster(),
	})
	return t, nil
}

// Name returns the strategy identifier.
func (t *Thompson) Name() string { return StrategyThompson }

// Roster returns a copy of the configured chains.
func (t *Thompson) Roster() []string {
	out := make([]string, len(t.chains))
	copy(out, t.chains)
	return out
}

// ChooseChain draws one Beta sample per arm and returns the chain with the
// greatest sample; the first chain in roster order wins ties. It only reads
// the store.
func (t *Thompson) ChooseChain(ctx context.Context) (string, error) {
	arms, err := t.repo.GetArms(ctx, t.chains)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	samples := make([]domain.ChainSample, 0, len(arms))
	bestIdx := -1
	bestScore := math.Inf(-1)
	for i, arm := range arms {
		v, err := t.sampler.Beta(arm.Alpha, arm.Beta)
		if err != nil {
			return "", fmt.Errorf("bandit: sample chain %s: %w", arm.Chain, err)
		}
		samples = append(samples, domain.ChainSample{Chain: arm.Chain, Value: v})
		if v > bestScore {
			bestScore = v
			bestIdx = i
		}
	}

	confidence := meanConfidence(arms)
	chosen := arms[bestIdx].Chain

	t.record(domain.Decision{
		Chain:            chosen,
		SampledValue:     bestScore,
		Confidence:       confidence,
		ExplorationRatio: 1 - confidence,
		DecidedAt:        t.now(),
	})

	t.emit(ctx, domain.Event{
		Kind:       domain.EventDecision,
		Chosen:     chosen,
		Samples:    samples,
		Confidence: confidence,
	})
	return chosen, nil
}

// Update feeds back the outcome of a trade on chain. Success adds one to
// alpha, failure one to beta; a positive reward adds min(reward/10, 0.5) to
// alpha on top. Chains outside the roster are ignored without error.
func (t *Thompson) Update(ctx context.Context, chain string, success bool, reward *float64) error {
	if !t.inRoster(chain) {
		t.emit(ctx, domain.Event{
			Kind:    domain.EventUpdateIgnored,
			Chain:   chain,
			Success: success,
			Reward:  reward,
		})
		return nil
	}

	unlock, err := t.lock(ctx, allArmsLock)
	if err != nil {
		return err
	}
	defer unlock()

	arm, err := t.repo.GetArm(ctx, chain)
	if err != nil {
		return err
	}

	if success {
		arm.Alpha++
	} else {
		arm.Beta++
	}
	if reward != nil && *reward > 0 {
		arm.Alpha += math.Min(*reward/rewardBonusDivisor, maxRewardBonus)
	}

	if err := t.repo.UpsertArm(ctx, arm); err != nil {
		return err
	}

	t.emit(ctx, domain.Event{
		Kind:             domain.EventUpdate,
		Chain:            chain,
		Success:          success,
		Reward:           reward,
		NewAlpha:         arm.Alpha,
		NewBeta:          arm.Beta,
		EstimatedWinRate: arm.WinRate(),
	})
	return nil
}

// Observe implements Strategy.
func (t *Thompson) Observe(ctx context.Context, o domain.Outcome) error {
	return t.Update(ctx, o.Chain, o.Success, o.Reward)
}

// State returns a snapshot of every roster chain's posterior.
func (t *Thompson) State(ctx context.Context) ([]domain.ArmState, error) {
	arms, err := t.repo.GetArms(ctx, t.chains)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ArmState, len(arms))
	for i, a := range arms {
		out[i] = domain.ArmState{
			Chain:            a.Chain,
			Alpha:            a.Alpha,
			Beta:             a.Beta,
			EstimatedWinRate: a.WinRate(),
			Confidence:       1 - ConfidenceWidth(a.Alpha, a.Beta),
		}
	}
	return out, nil
}

// BestChain returns the chain with the highest posterior mean, without
// sampling. The first chain in roster order wins ties.
func (t *Thompson) BestChain(ctx context.Context) (string, error) {
	arms, err := t.repo.GetArms(ctx, t.chains)
	if err != nil {
		return "", err
	}
	best := arms[0]
	for _, a := range arms[1:] {
		if a.WinRate() > best.WinRate() {
			best = a
		}
	}
	return best.Chain, nil
}

// ResetChain rewrites chain's arm to the prior.
func (t *Thompson) ResetChain(ctx context.Context, chain string) error {
	if !t.inRoster(chain) {
		return unknownChainError(chain)
	}

	unlock, err := t.lock(ctx, allArmsLock)
	if err != nil {
		return err
	}
	defer unlock()

	return t.resetChain(ctx, chain)
}

// resetChain writes the prior for chain. Caller holds the write lock.
func (t *Thompson) resetChain(ctx context.Context, chain string) error {
	if err := t.repo.UpsertArm(ctx, domain.PriorArm(chain)); err != nil {
		return err
	}
	t.emit(ctx, domain.Event{Kind: domain.EventReset, Chain: chain})
	return nil
}

// ResetAll rewrites every roster arm to the prior and clears the decision
// history.
func (t *Thompson) ResetAll(ctx context.Context) error {
	unlock, err := t.lock(ctx, allArmsLock)
	if err != nil {
		return err
	}
	defer unlock()

	for _, c := range t.chains {
		if err := t.resetChain(ctx, c); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.history = nil
	t.mu.Unlock()

	t.emit(ctx, domain.Event{Kind: domain.EventReset})
	return nil
}

// Decay pulls every arm toward the prior: new = prior + (old - prior) *
// factor. factor must be in (0,1]; 1 leaves state unchanged.
func (t *Thompson) Decay(ctx context.Context, factor float64) error {
	if !(factor > 0 && factor <= 1) {
		return configErrorf("decay factor %v outside (0,1]", factor)
	}

	unlock, err := t.lock(ctx, allArmsLock)
	if err != nil {
		return err
	}
	defer unlock()

	arms, err := t.repo.GetArms(ctx, t.chains)
	if err != nil {
		return err
	}
	for _, a := range arms {
		a.Alpha = domain.PriorAlpha + (a.Alpha-domain.PriorAlpha)*factor
		a.Beta = domain.PriorBeta + (a.Beta-domain.PriorBeta)*factor
		if err := t.repo.UpsertArm(ctx, a); err != nil {
			return err
		}
	}

	t.emit(ctx, domain.Event{Kind: domain.EventDecay, Factor: factor})
	return nil
}

// DecisionHistory returns a copy of the decisions made since construction
// or the last ResetAll.
func (t *Thompson) DecisionHistory() []domain.Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Decision, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Thompson) inRoster(chain string) bool {
	_, ok := t.inSet[chain]
	return ok
}

// record appends d to the history. Caller holds t.mu.
func (t *Thompson) record(d domain.Decision) {
	t.seq++
	d.Seq = t.seq
	t.history = appendBounded(t.history, d, t.limit)
}

func (t *Thompson) emit(ctx context.Context, ev domain.Event) {
	ev.Strategy = StrategyThompson
	ev.At = t.now()
	t.sink.Emit(ctx, ev)
}

// lock takes the in-process write mutex, then key on the configured
// LockManager, retrying briefly while another process holds it. The
// returned func releases both.
func (t *Thompson) lock(ctx context.Context, key string) (func(), error) {
	t.writeMu.Lock()
	if t.locker == nil {
		return t.writeMu.Unlock, nil
	}
	for attempt := 0; ; attempt++ {
		release, err := t.locker.Acquire(ctx, key, t.lockTTL)
		if err == nil {
			return func() {
				release()
				t.writeMu.Unlock()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || attempt+1 >= lockAttempts {
			t.writeMu.Unlock()
			return nil, fmt.Errorf("bandit: lock %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			t.writeMu.Unlock()
			return nil, ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
}

// meanConfidence averages 1 - ConfidenceWidth over arms.
func meanConfidence(arms []domain.Arm) float64 {
	if len(arms) == 0 {
		return 0
	}
	var sum float64
	for _, a := range arms {
		sum += 1 - ConfidenceWidth(a.Alpha, a.Beta)
	}
	return sum / float64(len(arms))
}

func appendBounded(history []domain.Decision, d domain.Decision, limit int) []domain.Decision {
	history = append(history, d)
	if limit > 0 && len(history) > limit {
		history = append(history[:0:0], history[len(history)-limit:]...)
	}
	return history
}
