package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/aksharshruti/platform/libs/logging"
	"github.com/aksharshruti/platform/libs/metrics"
)

const DefaultInterval = time.Hour

type Store interface {
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper deletes refresh token records past their expiry.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger = logging.OrDefault(logger)
	return &Sweeper{store: store, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("refresh token sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredRefreshTokens(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ExpiredTokensSwept.Add(float64(n))
		s.logger.Info("expired refresh tokens removed", slog.Int64("count", n))
	}
	return n, nil
}
