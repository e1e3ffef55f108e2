package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/medcare-service/internal/repository"
)

// SessionSweeper periodically deletes refresh records past their expiry. Expired tokens are
// already rejected by the codec; this only keeps the table small.
type SessionSweeper struct {
	purger   repository.ExpiredSessionPurger
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionSweeper creates a sweeper running every interval.
func NewSessionSweeper(purger repository.ExpiredSessionPurger, interval time.Duration, logger *zap.Logger) *SessionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSweeper{purger: purger, interval: interval, logger: logger, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) {
	if s.purger == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single purge and returns the number of records removed.
func (s *SessionSweeper) SweepOnce(ctx context.Context) int64 {
	removed, err := s.purger.PurgeExpiredRefreshRecords(ctx, s.now().UTC())
	if err != nil {
		s.logger.Warn("refresh session purge failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		s.logger.Info("purged expired refresh sessions", zap.Int64("removed", removed))
	}
	return removed
}
