package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// ArmStore implements domain.ArmStore on the bandit_state table.
type ArmStore struct {
	pool *pgxpool.Pool
}

// NewArmStore creates a new ArmStore backed by the given connection pool.
func NewArmStore(pool *pgxpool.Pool) *ArmStore {
	return &ArmStore{pool: pool}
}

// ReadAll returns the stored rows for chains. Chains with no row are absent
// from the result.
func (s *ArmStore) ReadAll(ctx context.Context, chains []string) ([]domain.ArmRecord, error) {
	if len(chains) == 0 {
		return nil, nil
	}

	const query = `
		SELECT chain, alpha, beta, updated_at
		FROM bandit_state
		WHERE chain = ANY($1)`

	rows, err := s.pool.Query(ctx, query, chains)
	if err != nil {
		return nil, fmt.Errorf("postgres: read bandit state: %w", err)
	}
	defer rows.Close()

	var out []domain.ArmRecord
	for rows.Next() {
		var r domain.ArmRecord
		if err := rows.Scan(&r.Chain, &r.Alpha, &r.Beta, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bandit state: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read bandit state rows: %w", err)
	}
	return out, nil
}

// Upsert writes arm in a single statement so concurrent writers never see
// a half-applied row.
func (s *ArmStore) Upsert(ctx context.Context, arm domain.Arm, updatedAt time.Time) error {
	const query = `
		INSERT INTO bandit_state (chain, alpha, beta, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain) DO UPDATE SET
			alpha = EXCLUDED.alpha,
			beta = EXCLUDED.beta,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, arm.Chain, arm.Alpha, arm.Beta, updatedAt); err != nil {
		return fmt.Errorf("postgres: upsert bandit state %s: %w", arm.Chain, err)
	}
	return nil
}

var _ domain.ArmStore = (*ArmStore)(nil)
