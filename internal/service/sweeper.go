package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/clock"
)

// Expirer is the sweep operation the Sweeper drives.
type Expirer interface {
	ExpireStaleListings(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs the expiry sweep once on start and then on every tick. A
// missed tick is not caught up; the next run covers it because the sweep
// predicate only looks at expires_at.
type Sweeper struct {
	expirer  Expirer
	clock    clock.Clock
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(e Expirer, clk clock.Clock, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{expirer: e, clock: clk, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := s.expirer.ExpireStaleListings(ctx, s.clock.Now())
	if err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	s.log.Debug("expiry sweep done", zap.Int64("expired", n))
}
