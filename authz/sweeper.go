package authz

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = time.Minute

// Sweeper drives the promotion sweep on a fixed interval. Sweep stays
// directly callable; the Sweeper only adds the clock.
type Sweeper struct {
	fabric   *Fabric
	interval time.Duration
}

// NewSweeper creates a Sweeper. A non-positive interval selects the
// default.
func NewSweeper(f *Fabric, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{fabric: f, interval: interval}
}

// Run sweeps until ctx is cancelled. Errors are logged and the loop
// continues; a failed sweep retries on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.fabric.Sweep(ctx)
			if err != nil {
				s.fabric.logger.Warn("authz: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.fabric.logger.Debug("authz: sweep executed promotions", "count", n)
			}
		}
	}
}
