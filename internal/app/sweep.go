package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeps expires listings past their pickup window and cancels unpaid
// orders every interval until ctx is done.
func (a *App) RunSweeps(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	a.Log.Info("sweeper started", zap.Duration("interval", interval))
	for {
		a.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// SweepOnce runs one pass of both sweeps. Failures are logged; the next tick
// retries.
func (a *App) SweepOnce(ctx context.Context) {
	if _, err := a.Listings.SweepExpired(ctx); err != nil && ctx.Err() == nil {
		a.Log.Warn("listing sweep failed", zap.Error(err))
	}
	if _, err := a.Orders.ExpireUnpaid(ctx); err != nil && ctx.Err() == nil {
		a.Log.Warn("unpaid order sweep failed", zap.Error(err))
	}
}
