package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbandit/internal/bandit"
	"github.com/alanyoungcy/chainbandit/internal/domain"
	"github.com/alanyoungcy/chainbandit/internal/store/memory"
)

type fakeArchiver struct {
	archived  int
	snapshots int
}

func (f *fakeArchiver) Archive(_ context.Context, d []domain.Decision) (int, string, error) {
	f.archived += len(d)
	return len(d), "archive/x.jsonl", nil
}

func (f *fakeArchiver) Snapshot(context.Context, []domain.ArmState) (string, error) {
	f.snapshots++
	return "snapshots/state/1.json", nil
}

func TestSchedulerRejectsBadSpecs(t *testing.T) {
	engine, err := bandit.NewThompson([]string{"base"}, memory.NewArmStore(), bandit.WithSink(bandit.MultiSink{}))
	require.NoError(t, err)
	s := NewScheduler(engine, quiet)

	require.Error(t, s.ScheduleDecay("not a cron", 0.9))
	require.NoError(t, s.ScheduleDecay("0 0 * * * *", 0.9))
	require.NoError(t, s.ScheduleArchive("0 */5 * * * *", &fakeArchiver{}))
	assert.Equal(t, []string{"decay", "archive"}, s.Jobs())
}

func TestSchedulerRequiresDecayer(t *testing.T) {
	ucb, err := bandit.NewUCB1([]string{"base"}, bandit.WithSink(bandit.MultiSink{}))
	require.NoError(t, err)
	s := NewScheduler(ucb, quiet)
	require.Error(t, s.ScheduleDecay("@hourly", 0.9))
	require.NoError(t, s.ScheduleArchive("@hourly", &fakeArchiver{}))
}

func TestSchedulerRunsJobs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewArmStore()
	require.NoError(t, store.Upsert(ctx, domain.Arm{Chain: "base", Alpha: 10, Beta: 2}, time.Now()))
	engine, err := bandit.NewThompson([]string{"base"}, store, bandit.WithSink(bandit.MultiSink{}))
	require.NoError(t, err)
	_, err = engine.ChooseChain(ctx)
	require.NoError(t, err)

	arch := &fakeArchiver{}
	s := NewScheduler(engine, quiet)
	require.NoError(t, s.ScheduleDecay("* * * * * *", 0.5))
	require.NoError(t, s.ScheduleArchive("* * * * * *", arch))

	runCtx, cancel := context.WithTimeout(ctx, 2500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(runCtx))

	states, err := engine.State(ctx)
	require.NoError(t, err)
	assert.Less(t, states[0].Alpha, 10.0)
	assert.GreaterOrEqual(t, arch.snapshots, 1)
	assert.GreaterOrEqual(t, arch.archived, 1)
}
