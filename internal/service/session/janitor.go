package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neurosync-os/backend/pkg/logger"
)

// Sweeper is the part of Store the janitor needs.
type Sweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor evicts sessions idle for longer than TTL.
type Janitor struct {
	store    Sweeper
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewJanitor returns a janitor; interval defaults to ttl/4 when not positive.
func NewJanitor(store Sweeper, ttl, interval time.Duration, log *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = ttl / 4
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepOnce(ctx)
		}
	}
}

// SweepOnce evicts idle sessions and returns how many were removed.
func (j *Janitor) SweepOnce(ctx context.Context) int {
	n, err := j.store.Sweep(ctx, j.now().Add(-j.ttl))
	if err != nil {
		j.logger.Warn("session sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.logger.Info("expired idle sessions", zap.Int("count", n), zap.Duration("ttl", j.ttl))
	}
	return n
}
