package poller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// CartExpirer deletes carts idle since before, returning their units to stock.
type CartExpirer interface {
	ExpireStaleCarts(ctx context.Context, before time.Time) (int, error)
}

// Sweeper expires abandoned carts on a fixed tick.
type Sweeper struct {
	expirer  CartExpirer
	log      *logrus.Logger
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func NewSweeper(expirer CartExpirer, log *logrus.Logger, interval, maxAge time.Duration) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{expirer: expirer, log: log, interval: interval, maxAge: maxAge, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	before := s.now().Add(-s.maxAge)
	n, err := s.expirer.ExpireStaleCarts(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			s.log.WithError(err).Error("failed to expire stale carts")
		}
		return
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{
			"expired": n,
			"before":  before,
		}).Info("stale carts expired")
	}
}
