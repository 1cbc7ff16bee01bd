package matchtimer

import (
	"context"
	"log"
	"time"

	"github.com/veil/chat-core/internal/metrics"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = 1 * time.Minute

// DefaultSweepBatch bounds how many conversations one sweep transaction
// may flip.
const DefaultSweepBatch = 500

// Sweeper periodically marks expired matches. A manual trigger may run
// concurrently with the ticker: the sweep predicate excludes already
// flipped rows, so overlap is harmless.
type Sweeper struct {
	timer    *Timer
	interval time.Duration
	batch    int
}

// NewSweeper creates a Sweeper with the given cadence and batch bound.
func NewSweeper(timer *Timer, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{timer: timer, interval: interval, batch: batch}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweeper] stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Printf("[sweeper] sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce runs a single bounded sweep and returns the number of matches
// flipped to expired. Failures roll back the whole batch; rows committed
// by earlier runs are untouched.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.timer.store.SweepExpired(ctx, s.batch)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.MatchesExpired.Add(float64(n))
		log.Printf("[sweeper] expired %d matches", n)
	}
	return n, nil
}
