package bandit

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// Repository maps a roster of chains onto stored arms, substituting the
// prior for chains the store has never seen.
type Repository struct {
	store domain.ArmStore
	now   func() time.Time
}

// NewRepository wraps store. now stamps each upsert; nil means time.Now.
func NewRepository(store domain.ArmStore, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: store, now: now}
}

// GetArms returns exactly one arm per chain, in the order given. Store
// failures wrap domain.ErrStoreUnavailable.
func (r *Repository) GetArms(ctx context.Context, chains []string) ([]domain.Arm, error) {
	rows, err := r.store.ReadAll(ctx, chains)
	if err != nil {
		return nil, fmt.Errorf("bandit: read arms: %w: %w", domain.ErrStoreUnavailable, err)
	}

	byChain := make(map[string]domain.Arm, len(rows))
	for _, row := range rows {
		byChain[row.Chain] = row.Arm
	}

	arms := make([]domain.Arm, len(chains))
	for i, c := range chains {
		if a, ok := byChain[c]; ok {
			arms[i] = a
			continue
		}
		arms[i] = domain.PriorArm(c)
	}
	return arms, nil
}

// GetArm returns the arm for a single chain.
func (r *Repository) GetArm(ctx context.Context, chain string) (domain.Arm, error) {
	arms, err := r.GetArms(ctx, []string{chain})
	if err != nil {
		return domain.Arm{}, err
	}
	return arms[0], nil
}

// UpsertArm writes arm, stamping the current time.
func (r *Repository) UpsertArm(ctx context.Context, arm domain.Arm) error {
	if err := r.store.Upsert(ctx, arm, r.now()); err != nil {
		return fmt.Errorf("bandit: upsert arm %s: %w: %w", arm.Chain, domain.ErrStoreUnavailable, err)
	}
	return nil
}
