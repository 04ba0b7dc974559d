package plantmetrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	"github.com/diewerk/toolledger/internal/rollup"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("plant.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, db *gorm.DB, clk clock.Clock, rollups *rollup.Service) *Collector {
		if !cfg.Plant.Metrics.Enabled {
			return nil
		}
		return NewCollector(db, clk, rollups, cfg.Plant.SiteID)
	}),
	fx.Invoke(runWorker),
)

// runWorker refreshes and pushes the fleet gauges on the configured cadence.
// Push failures are logged once per outage, not on every tick.
func runWorker(lc fx.Lifecycle, cfg config.Config, collector *Collector, pusher Pusher, logger *zap.Logger) {
	if collector == nil || pusher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("plantmetrics")

	interval := time.Duration(cfg.Plant.Metrics.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var failing atomic.Bool

	pushOnce := func() {
		pushCtx, pushCancel := context.WithTimeout(ctx, defaultPushTimeout)
		defer pushCancel()

		collector.Refresh(pushCtx)
		if err := pusher.Push(pushCtx, collector.Registry()); err != nil {
			if failing.CompareAndSwap(false, true) {
				log.Warn("plant metrics push failed", zap.Error(err))
			}
			return
		}
		failing.Store(false)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting plant metrics worker", zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				pushOnce()
				for {
					select {
					case <-ticker.C:
						pushOnce()
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
