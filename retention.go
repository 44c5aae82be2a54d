package silt

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// sweeper runs age-based pruning on a cron schedule. It uses its own
// store connection so sweeps never contend with flush connections.
type sweeper struct {
	cron *cron.Cron
}

func startSweeper(s *Sink) (*sweeper, error) {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Retention.Schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("schedule retention %q: %w", s.cfg.Retention.Schedule, err)
	}
	c.Start()
	return &sweeper{cron: c}, nil
}

// stop halts scheduling and waits up to timeout for a running sweep to
// finish before the store shuts down underneath it.
func (w *sweeper) stop(timeout time.Duration, id string) {
	ctx := w.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
		log.Printf("[silt] sink %s: retention sweep still running after %s, proceeding with close", id, timeout)
	}
}

// sweep deletes rows older than the configured MaxAge and reports the
// removed count on the diagnostic log.
func (s *Sink) sweep() {
	cutoff := time.Now().Add(-s.cfg.Retention.MaxAge)
	n, err := s.gw.DeleteBefore(context.Background(), ownerRetention, cutoff)
	if err != nil {
		log.Printf("[silt] sink %s: retention sweep failed: %v", s.id, err)
		return
	}
	if n > 0 {
		log.Printf("[silt] sink %s: retention removed %d rows from %s older than %s",
			s.id, n, s.gw.Table(), s.cfg.Retention.MaxAge)
	}
}
