package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const sweepBatch = 100

// ExpirySweeper periodically closes payment sessions that ran out of time.
type ExpirySweeper struct {
	sessions *SessionStore
	checkout *Checkout
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewExpirySweeper(sessions *SessionStore, checkout *Checkout, interval time.Duration, log *zap.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		sessions: sessions,
		checkout: checkout,
		interval: interval,
		log:      log.Named("expiry"),
		now:      utcNow,
	}
}

// Run sweeps every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("expired payment sessions", zap.Int("count", n))
			}
		}
	}
}

// Sweep expires every overdue pending session and returns how many it closed.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := s.sessions.ListExpired(ctx, s.now(), sweepBatch)
		if err != nil {
			return total, err
		}
		closed := 0
		for _, sess := range batch {
			if s.checkout.Expire(ctx, sess, reasonSessionExpired) {
				closed++
			}
		}
		total += closed
		if closed == 0 && len(batch) > 0 {
			// The same sessions would come back on the next query.
			return total, fmt.Errorf("expire sessions: no progress on %d overdue sessions", len(batch))
		}
		if len(batch) < sweepBatch || ctx.Err() != nil {
			return total, nil
		}
	}
}
