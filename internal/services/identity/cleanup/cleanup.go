// Package cleanup reclaims expired grant and consent records.
//
// The scheduler is a convenience, not a correctness requirement: stores
// enforce expiry at read time, so a disabled or failing scheduler only costs
// storage growth, never wrong answers.
package cleanup

import (
	"context"
	"log"
	"time"

	"github.com/singlesignon/identity/internal/services/identity/storage"
)

const (
	defaultInterval      = 5 * time.Minute
	defaultBatchSize     = 100
	defaultMaxBatches    = 10
	defaultSkewTolerance = 5 * time.Second
)

// Config controls scheduler pacing and per-run work bounds.
type Config struct {
	// Enabled gates the recurring loop. RunOnce works regardless.
	Enabled bool
	// Interval is the pause between reclaim passes.
	Interval time.Duration
	// BatchSize bounds handles removed per store call so reclaim deletes
	// never compete with live traffic for long.
	BatchSize int
	// MaxBatches bounds batches per run, capping worst-case run duration.
	MaxBatches int
	// SkewTolerance is subtracted from the wall clock when computing the
	// reclaim threshold, so a run never deletes rows that a concurrent
	// reader on a slightly slower clock still considers live.
	SkewTolerance time.Duration
}

// normalized fills config defaults without mutating the caller's copy.
func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaultMaxBatches
	}
	if c.SkewTolerance <= 0 {
		c.SkewTolerance = defaultSkewTolerance
	}
	return c
}

// Result summarizes one reclaim pass.
type Result struct {
	GrantsDeleted   int
	ConsentsDeleted int
	Batches         int
	Truncated       bool
}

// Scheduler periodically reclaims expired records from the backing stores.
type Scheduler struct {
	grants   storage.GrantStore
	consents storage.ConsentStore
	config   Config
	clock    func() time.Time
	logf     func(format string, args ...any)
}

// New builds a scheduler over the given stores.
func New(grants storage.GrantStore, consents storage.ConsentStore, config Config) *Scheduler {
	return &Scheduler{
		grants:   grants,
		consents: consents,
		config:   config.normalized(),
		clock:    time.Now,
		logf:     log.Printf,
	}
}

// SetClock overrides the scheduler's time source. Intended for tests.
func (s *Scheduler) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// SetLogf overrides the scheduler's log sink. Intended for tests.
func (s *Scheduler) SetLogf(logf func(format string, args ...any)) {
	if s == nil || logf == nil {
		return
	}
	s.logf = logf
}

// Run executes reclaim passes on the configured interval until the context
// ends. Request handling never runs on this goroutine, so a slow store only
// delays the next pass.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || !s.config.Enabled {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.RunOnce(ctx, s.clock())
			if err != nil {
				// Deletion is idempotent; the next tick retries from
				// scratch, so a partial run leaves nothing to repair.
				s.logf("cleanup: run ended early: %v", err)
				continue
			}
			if result.GrantsDeleted > 0 || result.ConsentsDeleted > 0 {
				s.logf("cleanup: reclaimed %d grants, %d consents in %d batches",
					result.GrantsDeleted, result.ConsentsDeleted, result.Batches)
			}
		}
	}
}

// RunOnce performs a single bounded reclaim pass with the given wall-clock
// time and reports what it removed.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	if s == nil {
		return Result{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threshold := now.UTC().Add(-s.config.SkewTolerance)

	var result Result
	for result.Batches < s.config.MaxBatches {
		handles, err := s.grants.DeleteExpiredGrants(ctx, threshold, s.config.BatchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.GrantsDeleted += len(handles)
		if len(handles) < s.config.BatchSize {
			break
		}
	}
	if result.Batches == s.config.MaxBatches && result.GrantsDeleted == result.Batches*s.config.BatchSize {
		result.Truncated = true
	}

	for batches := 0; batches < s.config.MaxBatches; batches++ {
		removed, err := s.consents.DeleteExpiredConsents(ctx, threshold, s.config.BatchSize)
		if err != nil {
			return result, err
		}
		result.ConsentsDeleted += removed
		if removed < s.config.BatchSize {
			break
		}
	}
	return result, nil
}
