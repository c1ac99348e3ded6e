package oidc

import (
	"context"
	"log/slog"
	"time"
)

// Refresher periodically renews provider tokens that are about to expire.
type Refresher struct {
	service  OIDCService
	interval time.Duration
}

// NewRefresher creates a refresher that runs every interval.
func NewRefresher(service OIDCService, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{service: service, interval: interval}
}

// Run blocks until ctx is cancelled, refreshing due tokens on each tick.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("provider token refresher started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("provider token refresher stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	n, err := r.service.RefreshDue(ctx)
	if err != nil && ctx.Err() == nil {
		slog.Error("provider token refresh pass failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Info("provider tokens refreshed", slog.Int("count", n))
	}
}
