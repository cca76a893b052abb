// Package memory implements domain.ArmStore in process memory. It backs
// dry runs and tests; state is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// ArmStore is a mutex-guarded map of arm records keyed by chain.
type ArmStore struct {
	mu   sync.RWMutex
	rows map[string]domain.ArmRecord

	// failRead and failWrite, when set, are returned by the next calls.
	failRead  error
	failWrite error
}

// NewArmStore returns an empty ArmStore.
func NewArmStore() *ArmStore {
	return &ArmStore{rows: make(map[string]domain.ArmRecord)}
}

// ReadAll returns the stored rows for the requested chains.
func (s *ArmStore) ReadAll(ctx context.Context, chains []string) ([]domain.ArmRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failRead != nil {
		return nil, s.failRead
	}

	out := make([]domain.ArmRecord, 0, len(chains))
	for _, c := range chains {
		if r, ok := s.rows[c]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Upsert inserts or replaces the row for arm.Chain.
func (s *ArmStore) Upsert(ctx context.Context, arm domain.Arm, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	s.rows[arm.Chain] = domain.ArmRecord{Arm: arm, UpdatedAt: updatedAt}
	return nil
}

// Len returns the number of stored rows.
func (s *ArmStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// FailReads makes every ReadAll return err until cleared with nil.
func (s *ArmStore) FailReads(err error) {
	s.mu.Lock()
	s.failRead = err
	s.mu.Unlock()
}

// FailWrites makes every Upsert return err until cleared with nil.
func (s *ArmStore) FailWrites(err error) {
	s.mu.Lock()
	s.failWrite = err
	s.mu.Unlock()
}

var _ domain.ArmStore = (*ArmStore)(nil)
