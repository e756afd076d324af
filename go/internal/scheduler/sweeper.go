// Package scheduler runs the periodic background passes: expiring
// participants whose question deadline passed.
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Expirer fails overdue participants and reports how many it failed.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Sweeper calls ExpireOverdue on a fixed interval.
type Sweeper struct {
	expirer  Expirer
	clock    clockwork.Clock
	interval time.Duration
}

func NewSweeper(expirer Expirer, clock clockwork.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{expirer: expirer, clock: clock, interval: interval}
}

// Run sweeps until ctx is cancelled. Errors are logged and the next tick retries.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry sweeper shutting down")
			return nil
		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg("expired overdue participants")
	}
}
