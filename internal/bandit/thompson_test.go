package bandit

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/chainbandit/internal/domain"
	"github.com/alanyoungcy/chainbandit/internal/store/memory"
)

var roster = []string{"ethereum", "polygon", "arbitrum"}

type ThompsonSuite struct {
	suite.Suite
	ctx    context.Context
	store  *memory.ArmStore
	sink   *recordingSink
	engine *Thompson
}

func (s *ThompsonSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewArmStore()
	s.sink = &recordingSink{}
	eng, err := NewThompson(roster, s.store,
		WithSource(rand.NewPCG(2024, 11)),
		WithSink(s.sink),
		WithClock(fixedClock),
	)
	s.Require().NoError(err)
	s.engine = eng
}

func (s *ThompsonSuite) stateOf(chain string) domain.ArmState {
	states, err := s.engine.State(s.ctx)
	s.Require().NoError(err)
	for _, st := range states {
		if st.Chain == chain {
			return st
		}
	}
	s.FailNow("chain missing from state", chain)
	return domain.ArmState{}
}

func (s *ThompsonSuite) TestInitEventCarriesRoster() {
	s.Require().Equal([]domain.EventKind{domain.EventInit}, s.sink.kinds())
	s.Require().Equal(roster, s.sink.last().Chains)
	s.Require().Equal(StrategyThompson, s.sink.last().Strategy)
}

func (s *ThompsonSuite) TestChooseChainAlwaysReturnsRosterMember() {
	for i := 0; i < 500; i++ {
		c, err := s.engine.ChooseChain(s.ctx)
		s.Require().NoError(err)
		s.Require().Contains(roster, c)
	}
}

func (s *ThompsonSuite) TestChooseChainDoesNotWriteStore() {
	for i := 0; i < 10; i++ {
		_, err := s.engine.ChooseChain(s.ctx)
		s.Require().NoError(err)
	}
	s.Require().Equal(0, s.store.Len())
}

func (s *ThompsonSuite) TestUniformPriorSpreadsChoicesEvenly() {
	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		c, err := s.engine.ChooseChain(s.ctx)
		s.Require().NoError(err)
		counts[c]++
	}
	for _, c := range roster {
		share := float64(counts[c]) / n
		s.Require().GreaterOrEqualf(share, 0.28, "%s chosen %.3f", c, share)
		s.Require().LessOrEqualf(share, 0.38, "%s chosen %.3f", c, share)
	}
}

func (s *ThompsonSuite) TestLearningScenario() {
	for i := 0; i < 50; i++ {
		s.Require().NoError(s.engine.Update(s.ctx, "polygon", true, nil))
		s.Require().NoError(s.engine.Update(s.ctx, "ethereum", false, nil))
	}

	best, err := s.engine.BestChain(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal("polygon", best)

	poly, arb, eth := s.stateOf("polygon"), s.stateOf("arbitrum"), s.stateOf("ethereum")
	s.Require().Greater(poly.EstimatedWinRate, arb.EstimatedWinRate)
	s.Require().Greater(arb.EstimatedWinRate, eth.EstimatedWinRate)
	s.Require().Equal(52.0, poly.Alpha)
	s.Require().Equal(54.0, eth.Beta)
	s.Require().Greater(poly.Confidence, arb.Confidence)

	// Exploitation dominates once the posteriors separate.
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		c, err := s.engine.ChooseChain(s.ctx)
		s.Require().NoError(err)
		counts[c]++
	}
	s.Require().Greater(counts["polygon"], 800)
	s.Require().Less(counts["ethereum"], 10)
}

func (s *ThompsonSuite) TestUpdateSuccessRaisesAlpha() {
	before := s.stateOf("arbitrum")
	s.Require().NoError(s.engine.Update(s.ctx, "arbitrum", true, nil))
	after := s.stateOf("arbitrum")
	s.Require().Greater(after.Alpha, before.Alpha)
	s.Require().Equal(before.Beta, after.Beta)
	s.Require().Greater(after.EstimatedWinRate, before.EstimatedWinRate)

	ev := s.sink.last()
	s.Require().Equal(domain.EventUpdate, ev.Kind)
	s.Require().Equal("arbitrum", ev.Chain)
	s.Require().True(ev.Success)
	s.Require().Equal(3.0, ev.NewAlpha)
	s.Require().InDelta(0.6, ev.EstimatedWinRate, 1e-12)
}

func (s *ThompsonSuite) TestUpdateFailureRaisesBeta() {
	s.Require().NoError(s.engine.Update(s.ctx, "ethereum", false, nil))
	st := s.stateOf("ethereum")
	s.Require().Equal(2.0, st.Alpha)
	s.Require().Equal(3.0, st.Beta)
}

func (s *ThompsonSuite) TestUpdatePersistsTimestamp() {
	s.Require().NoError(s.engine.Update(s.ctx, "polygon", true, nil))
	rows, err := s.store.ReadAll(s.ctx, []string{"polygon"})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Require().Equal(fixedNow, rows[0].UpdatedAt)
}

func (s *ThompsonSuite) TestRewardBonusIsScaledAndCapped() {
	cases := []struct {
		chain   string
		success bool
		reward  *float64
		alpha   float64
		beta    float64
	}{
		{"ethereum", true, domain.Reward(2), 3.2, 2},
		{"polygon", true, domain.Reward(100), 3.5, 2},
		{"arbitrum", true, domain.Reward(-4), 3, 2},
	}
	for _, tc := range cases {
		s.Require().NoError(s.engine.Update(s.ctx, tc.chain, tc.success, tc.reward))
		st := s.stateOf(tc.chain)
		s.Require().InDeltaf(tc.alpha, st.Alpha, 1e-12, "alpha for %s", tc.chain)
		s.Require().InDeltaf(tc.beta, st.Beta, 1e-12, "beta for %s", tc.chain)
	}

	// A failed attempt that still earned something keeps the bonus.
	s.Require().NoError(s.engine.Update(s.ctx, "arbitrum", false, domain.Reward(3)))
	st := s.stateOf("arbitrum")
	s.Require().InDelta(3.3, st.Alpha, 1e-12)
	s.Require().InDelta(3.0, st.Beta, 1e-12)
}

func (s *ThompsonSuite) TestUpdateUnknownChainIsIgnored() {
	before, err := s.engine.State(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.engine.Update(s.ctx, "solana", true, domain.Reward(5)))

	after, err := s.engine.State(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(before, after)
	s.Require().Equal(0, s.store.Len())
	s.Require().Equal(domain.EventUpdateIgnored, s.sink.last().Kind)
	s.Require().Equal("solana", s.sink.last().Chain)
}

func (s *ThompsonSuite) TestObserveDelegatesToUpdate() {
	s.Require().NoError(s.engine.Observe(s.ctx, domain.Outcome{Chain: "polygon", Success: true, Reward: domain.Reward(1)}))
	s.Require().InDelta(3.1, s.stateOf("polygon").Alpha, 1e-12)
}

func (s *ThompsonSuite) TestResetChainRestoresPrior() {
	for i := 0; i < 7; i++ {
		s.Require().NoError(s.engine.Update(s.ctx, "polygon", i%2 == 0, domain.Reward(3)))
	}
	s.Require().NoError(s.engine.ResetChain(s.ctx, "polygon"))
	st := s.stateOf("polygon")
	s.Require().Equal(2.0, st.Alpha)
	s.Require().Equal(2.0, st.Beta)
	s.Require().Equal(domain.EventReset, s.sink.last().Kind)
}

func (s *ThompsonSuite) TestResetChainRejectsUnknownChain() {
	err := s.engine.ResetChain(s.ctx, "solana")
	var cfgErr *ConfigurationError
	s.Require().ErrorAs(err, &cfgErr)
	s.Require().ErrorIs(err, domain.ErrUnknownChain)
	s.Require().Equal(0, s.store.Len())
}

func (s *ThompsonSuite) TestResetAllRestoresPriorAndClearsHistory() {
	s.Require().NoError(s.engine.Update(s.ctx, "ethereum", true, nil))
	s.Require().NoError(s.engine.Update(s.ctx, "arbitrum", false, nil))
	_, err := s.engine.ChooseChain(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(s.engine.DecisionHistory(), 1)

	s.Require().NoError(s.engine.ResetAll(s.ctx))

	states, err := s.engine.State(s.ctx)
	s.Require().NoError(err)
	for _, st := range states {
		s.Require().Equal(2.0, st.Alpha)
		s.Require().Equal(2.0, st.Beta)
	}
	s.Require().Empty(s.engine.DecisionHistory())
}

func (s *ThompsonSuite) TestDecayContractsTowardPrior() {
	s.Require().NoError(s.store.Upsert(s.ctx, domain.Arm{Chain: "ethereum", Alpha: 10, Beta: 5}, fixedNow))
	s.Require().NoError(s.store.Upsert(s.ctx, domain.Arm{Chain: "polygon", Alpha: 1, Beta: 1.5}, fixedNow))

	s.Require().NoError(s.engine.Decay(s.ctx, 0.5))

	eth := s.stateOf("ethereum")
	s.Require().InDelta(6.0, eth.Alpha, 1e-12)
	s.Require().InDelta(3.5, eth.Beta, 1e-12)

	// Below-prior values rise toward the prior without crossing it.
	poly := s.stateOf("polygon")
	s.Require().InDelta(1.5, poly.Alpha, 1e-12)
	s.Require().InDelta(1.75, poly.Beta, 1e-12)

	s.Require().Equal(domain.EventDecay, s.sink.last().Kind)
	s.Require().Equal(0.5, s.sink.last().Factor)
}

func (s *ThompsonSuite) TestDecayByOneIsNoOp() {
	s.Require().NoError(s.store.Upsert(s.ctx, domain.Arm{Chain: "arbitrum", Alpha: 9.25, Beta: 4}, fixedNow))
	before, err := s.engine.State(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(s.engine.Decay(s.ctx, 1))
	after, err := s.engine.State(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(before, after)
}

func (s *ThompsonSuite) TestRepeatedDecayConvergesWithoutOvershoot() {
	s.Require().NoError(s.store.Upsert(s.ctx, domain.Arm{Chain: "polygon", Alpha: 80, Beta: 30}, fixedNow))
	prevA, prevB := 80.0, 30.0
	for i := 0; i < 80; i++ {
		s.Require().NoError(s.engine.Decay(s.ctx, 0.7))
		st := s.stateOf("polygon")
		s.Require().Less(st.Alpha, prevA)
		s.Require().Less(st.Beta, prevB)
		s.Require().GreaterOrEqual(st.Alpha, 2.0)
		s.Require().GreaterOrEqual(st.Beta, 2.0)
		prevA, prevB = st.Alpha, st.Beta
	}
	s.Require().InDelta(2.0, prevA, 1e-9)
	s.Require().InDelta(2.0, prevB, 1e-9)
}

func (s *ThompsonSuite) TestDecayRejectsFactorOutsideRange() {
	for _, f := range []float64{0, -0.5, 1.01, math.NaN()} {
		err := s.engine.Decay(s.ctx, f)
		var cfgErr *ConfigurationError
		s.Require().ErrorAsf(err, &cfgErr, "factor %v", f)
	}
}

func (s *ThompsonSuite) TestDecisionRecordsConfidence() {
	c, err := s.engine.ChooseChain(s.ctx)
	s.Require().NoError(err)

	hist := s.engine.DecisionHistory()
	s.Require().Len(hist, 1)
	d := hist[0]
	s.Require().Equal(c, d.Chain)
	want := 1 - ConfidenceWidth(2, 2)
	s.Require().InDelta(want, d.Confidence, 1e-12)
	s.Require().InDelta(1-want, d.ExplorationRatio, 1e-12)
	s.Require().Equal(fixedNow, d.DecidedAt)

	ev := s.sink.last()
	s.Require().Equal(domain.EventDecision, ev.Kind)
	s.Require().Equal(c, ev.Chosen)
	s.Require().Len(ev.Samples, len(roster))
	for i, smp := range ev.Samples {
		s.Require().Equal(roster[i], smp.Chain)
		s.Require().LessOrEqual(smp.Value, d.SampledValue)
	}
}

func (s *ThompsonSuite) TestDecisionHistoryIsDefensiveCopy() {
	_, err := s.engine.ChooseChain(s.ctx)
	s.Require().NoError(err)
	hist := s.engine.DecisionHistory()
	hist[0].Chain = "tampered"
	s.Require().NotEqual("tampered", s.engine.DecisionHistory()[0].Chain)
}

func (s *ThompsonSuite) TestStoreReadFailurePropagates() {
	boom := errors.New("connection refused")
	s.store.FailReads(boom)

	_, err := s.engine.ChooseChain(s.ctx)
	s.Require().ErrorIs(err, boom)
	s.Require().ErrorIs(s.engine.Update(s.ctx, "polygon", true, nil), boom)
	_, err = s.engine.BestChain(s.ctx)
	s.Require().ErrorIs(err, boom)
	s.Require().Empty(s.engine.DecisionHistory())
}

func (s *ThompsonSuite) TestStoreWriteFailurePropagates() {
	boom := errors.New("disk full")
	s.store.FailWrites(boom)
	s.Require().ErrorIs(s.engine.Update(s.ctx, "polygon", true, nil), boom)
	s.Require().ErrorIs(s.engine.ResetChain(s.ctx, "polygon"), boom)
	s.Require().NotEqual(domain.EventUpdate, s.sink.last().Kind)
}

func (s *ThompsonSuite) TestCorruptedArmFailsSampling() {
	s.Require().NoError(s.store.Upsert(s.ctx, domain.Arm{Chain: "polygon", Alpha: 0, Beta: 2}, fixedNow))
	_, err := s.engine.ChooseChain(s.ctx)
	var ipe *InvalidParameterError
	s.Require().ErrorAs(err, &ipe)
	s.Require().Equal("alpha", ipe.Param)
}

func TestThompsonSuite(t *testing.T) {
	suite.Run(t, new(ThompsonSuite))
}

func TestNewThompsonRejectsBadRoster(t *testing.T) {
	store := memory.NewArmStore()
	for name, chains := range map[string][]string{
		"empty":     nil,
		"duplicate": {"base", "optimism", "base"},
		"blank":     {"base", ""},
	} {
		t.Run(name, func(t *testing.T) {
			eng, err := NewThompson(chains, store, WithSink(&recordingSink{}))
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.Nil(t, eng)
		})
	}
}

func TestThompsonRosterIsImmutable(t *testing.T) {
	chains := []string{"base", "optimism"}
	eng, err := NewThompson(chains, memory.NewArmStore(), WithSink(&recordingSink{}))
	require.NoError(t, err)
	chains[0] = "mutated"
	got := eng.Roster()
	got[1] = "also-mutated"
	require.Equal(t, []string{"base", "optimism"}, eng.Roster())
}

func TestThompsonFirstChainWinsTies(t *testing.T) {
	eng, err := NewThompson([]string{"only"}, memory.NewArmStore(), WithSink(&recordingSink{}))
	require.NoError(t, err)
	best, err := eng.BestChain(context.Background())
	require.NoError(t, err)
	require.Equal(t, "only", best)

	multi, err := NewThompson([]string{"a", "b", "c"}, memory.NewArmStore(), WithSink(&recordingSink{}))
	require.NoError(t, err)
	best, err = multi.BestChain(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", best, "equal win rates resolve to roster order")
}

func TestThompsonHistoryLimit(t *testing.T) {
	eng, err := NewThompson(roster, memory.NewArmStore(),
		WithSink(&recordingSink{}),
		WithHistoryLimit(3),
		WithSource(rand.NewPCG(1, 1)),
	)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := eng.ChooseChain(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, eng.DecisionHistory(), 3)
}

func TestThompsonLocksReadModifyWrite(t *testing.T) {
	locker := &fakeLocker{busy: 2}
	eng, err := NewThompson(roster, memory.NewArmStore(),
		WithSink(&recordingSink{}),
		WithLocker(locker, 0),
	)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, eng.Update(ctx, "polygon", true, nil))
	require.NoError(t, eng.Decay(ctx, 0.9))
	require.NoError(t, eng.ResetAll(ctx))

	require.Equal(t, 3, locker.acquired)
	require.Equal(t, 3, locker.released)
	require.Equal(t, []string{allArmsLock, allArmsLock, allArmsLock}, locker.keys)

	// Unknown chains never touch the lock.
	require.NoError(t, eng.Update(ctx, "solana", true, nil))
	require.Equal(t, 3, locker.acquired)
}

func TestThompsonLockGivesUp(t *testing.T) {
	locker := &fakeLocker{busy: lockAttempts + 5}
	eng, err := NewThompson(roster, memory.NewArmStore(),
		WithSink(&recordingSink{}),
		WithLocker(locker, 0),
	)
	require.NoError(t, err)
	err = eng.Update(context.Background(), "polygon", true, nil)
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestThompsonConcurrentUpdatesAllLand(t *testing.T) {
	store := memory.NewArmStore()
	eng, err := NewThompson(roster, slowStore{ArmStore: store, delay: time.Millisecond},
		WithSink(&recordingSink{}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	const n = 50
	errs := make(chan error, n+2)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- eng.Update(ctx, "polygon", true, nil)
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- eng.Update(ctx, "arbitrum", false, nil)
	}()
	go func() {
		defer wg.Done()
		errs <- eng.ResetChain(ctx, "ethereum")
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	states, err := eng.State(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.PriorAlpha, states[0].Alpha)
	require.Equal(t, domain.PriorAlpha+n, states[1].Alpha)
	require.Equal(t, domain.PriorBeta, states[1].Beta)
	require.Equal(t, domain.PriorBeta+1, states[2].Beta)
}

func TestThompsonResetChainTakesLock(t *testing.T) {
	locker := &fakeLocker{}
	eng, err := NewThompson(roster, memory.NewArmStore(),
		WithSink(&recordingSink{}),
		WithLocker(locker, 0),
	)
	require.NoError(t, err)
	require.NoError(t, eng.ResetChain(context.Background(), "polygon"))
	require.Equal(t, 1, locker.acquired)
	require.Equal(t, 1, locker.released)
}
