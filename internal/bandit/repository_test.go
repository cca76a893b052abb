package bandit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbandit/internal/domain"
	"github.com/alanyoungcy/chainbandit/internal/store/memory"
)

func TestRepositoryFillsMissingChainsWithPrior(t *testing.T) {
	ctx := context.Background()
	store := memory.NewArmStore()
	require.NoError(t, store.Upsert(ctx, domain.Arm{Chain: "polygon", Alpha: 7, Beta: 3}, fixedNow))

	repo := NewRepository(store, fixedClock)
	arms, err := repo.GetArms(ctx, []string{"ethereum", "polygon", "arbitrum"})
	require.NoError(t, err)
	require.Equal(t, []domain.Arm{
		domain.PriorArm("ethereum"),
		{Chain: "polygon", Alpha: 7, Beta: 3},
		domain.PriorArm("arbitrum"),
	}, arms)
}

func TestRepositoryUpsertStampsClock(t *testing.T) {
	ctx := context.Background()
	store := memory.NewArmStore()
	repo := NewRepository(store, fixedClock)

	require.NoError(t, repo.UpsertArm(ctx, domain.Arm{Chain: "base", Alpha: 4, Beta: 2}))
	rows, err := store.ReadAll(ctx, []string{"base"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, fixedNow, rows[0].UpdatedAt)

	arm, err := repo.GetArm(ctx, "base")
	require.NoError(t, err)
	require.Equal(t, 4.0, arm.Alpha)
}

func TestRepositoryWrapsStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewArmStore()
	boom := errors.New("timeout")
	store.FailReads(boom)
	store.FailWrites(boom)
	repo := NewRepository(store, nil)

	_, err := repo.GetArms(ctx, []string{"base"})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "bandit: read arms")

	err = repo.UpsertArm(ctx, domain.PriorArm("base"))
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "upsert arm base")
}
