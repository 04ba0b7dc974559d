// Package scheduler drives the periodic reconciliation sweep. It runs in the
// dedicated scheduler binary; the request-scoped write paths never depend on
// it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	obsmetrics "github.com/diewerk/toolledger/internal/observability/metrics"
	"github.com/diewerk/toolledger/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler requires db, logger, id generator, clock, tuning and reconcile service")

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Tuning       *config.TuningHolder
	ReconcileSvc *reconcile.Service
}

type Scheduler struct {
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	tuning       *config.TuningHolder
	reconcileSvc *reconcile.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Tuning == nil || p.ReconcileSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:        p.GenID,
		clock:        p.Clock,
		tuning:       p.Tuning,
		reconcileSvc: p.ReconcileSvc,
	}, nil
}

// runJob wraps one job execution with a timeout context, run logging and
// duration/outcome metrics. A deadline hit is a soft timeout: logged and
// counted, not propagated as a run failure.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		schedMetrics.IncJobError(name, err)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one scheduler pass with the tuning knobs read fresh, so a
// hot-reloaded cadence or batch size applies to the very next pass.
func (s *Scheduler) RunOnce(parent context.Context) error {
	tuning := s.tuning.Get().Reconcile
	if !tuning.Enabled {
		return nil
	}

	return s.runJob(parent, "reconcile_projections", tuning.BatchSize, tuning.JobTimeout, func(ctx context.Context) error {
		summary, err := s.reconcileSvc.SweepAll(ctx, tuning.BatchSize)
		run := jobRunFromContext(ctx)
		run.AddProcessed(summary.Scanned)
		obsmetrics.Scheduler().AddBatchProcessed("reconcile_projections", "tool", summary.Scanned)
		if summary.Drifted > 0 {
			s.logger(ctx).Warn("reconciliation repaired drifted projections",
				zap.Int("drifted_tools", summary.Drifted),
				zap.Int("repaired_fields", summary.Repaired),
				zap.Int("skipped", summary.Skipped),
			)
		}
		return err
	})
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.tuning.Get().Reconcile.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		// Pick up hot-reloaded cadence between passes.
		if updated := s.tuning.Get().Reconcile.Interval; updated != interval {
			interval = updated
			ticker.Reset(interval)
			s.log.Info("scheduler interval updated", zap.Duration("interval", interval))
		}
		nextRun = nextRun.Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Module runs the scheduler loop for the lifetime of the app.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		loopCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					defer close(done)
					s.RunForever(loopCtx)
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				select {
				case <-done:
				case <-ctx.Done():
				}
				return nil
			},
		})
	}),
)
