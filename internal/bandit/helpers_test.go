package bandit

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// recordingSink keeps every emitted event.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Emit(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recordingSink) last() domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// fakeLocker hands out a lock after refusing it `busy` times.
type fakeLocker struct {
	mu       sync.Mutex
	busy     int
	acquired int
	released int
	keys     []string
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy > 0 {
		f.busy--
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	f.keys = append(f.keys, key)
	return func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}, nil
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// slowStore delays every read so unserialized read-modify-writes overlap.
type slowStore struct {
	domain.ArmStore
	delay time.Duration
}

func (s slowStore) ReadAll(ctx context.Context, chains []string) ([]domain.ArmRecord, error) {
	time.Sleep(s.delay)
	return s.ArmStore.ReadAll(ctx, chains)
}
