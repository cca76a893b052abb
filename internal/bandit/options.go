package bandit

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

const defaultLockTTL = 5 * time.Second

type options struct {
	source       rand.Source
	sink         Sink
	logger       *slog.Logger
	locker       domain.LockManager
	lockTTL      time.Duration
	now          func() time.Time
	historyLimit int
}

// Option configures an engine.
type Option func(*options)

// WithSource injects the uniform random source used for sampling.
func WithSource(src rand.Source) Option {
	return func(o *options) { o.source = src }
}

// WithSink replaces the default slog sink.
func WithSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLogger sets the logger backing the default sink.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLocker serializes read-modify-write cycles on the arm store through a
// distributed lock, for deployments where several processes share rows.
func WithLocker(lm domain.LockManager, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = lm
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHistoryLimit caps the in-memory decision history to the most recent n
// entries. Zero keeps every decision.
func WithHistoryLimit(n int) Option {
	return func(o *options) { o.historyLimit = n }
}

func buildOptions(opts []Option) options {
	o := options{lockTTL: defaultLockTTL, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.source == nil {
		o.source = DefaultSource()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.sink == nil {
		o.sink = NewSlogSink(o.logger)
	}
	return o
}

// validateRoster checks the roster is non-empty, has no blank ids and no
// duplicates, and returns a private copy of it.
func validateRoster(chains []string) ([]string, error) {
	if len(chains) == 0 {
		return nil, configErrorf("roster must contain at least one chain")
	}
	seen := make(map[string]struct{}, len(chains))
	out := make([]string, 0, len(chains))
	for _, c := range chains {
		if c == "" {
			return nil, configErrorf("roster contains an empty chain id")
		}
		if _, dup := seen[c]; dup {
			return nil, configErrorf("roster contains duplicate chain %q", c)
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
