package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// ArmStore implements domain.ArmStore on the bandit_state table.
// updated_at is stored as unix milliseconds.
type ArmStore struct {
	db *DB
}

// NewArmStore creates an ArmStore on db.
func NewArmStore(db *DB) *ArmStore {
	return &ArmStore{db: db}
}

// ReadAll returns the stored rows for chains.
func (s *ArmStore) ReadAll(ctx context.Context, chains []string) ([]domain.ArmRecord, error) {
	if len(chains) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chains)), ",")
	args := make([]any, len(chains))
	for i, c := range chains {
		args[i] = c
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chain, alpha, beta, updated_at FROM bandit_state WHERE chain IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read bandit state: %w", err)
	}
	defer rows.Close()

	var out []domain.ArmRecord
	for rows.Next() {
		var (
			r      domain.ArmRecord
			millis int64
		)
		if err := rows.Scan(&r.Chain, &r.Alpha, &r.Beta, &millis); err != nil {
			return nil, fmt.Errorf("sqlite: scan bandit state: %w", err)
		}
		r.UpdatedAt = time.UnixMilli(millis).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read bandit state rows: %w", err)
	}
	return out, nil
}

// Upsert writes arm in a single statement.
func (s *ArmStore) Upsert(ctx context.Context, arm domain.Arm, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bandit_state (chain, alpha, beta, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chain) DO UPDATE SET
			alpha = excluded.alpha,
			beta = excluded.beta,
			updated_at = excluded.updated_at`,
		arm.Chain, arm.Alpha, arm.Beta, updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert bandit state %s: %w", arm.Chain, err)
	}
	return nil
}

var _ domain.ArmStore = (*ArmStore)(nil)
