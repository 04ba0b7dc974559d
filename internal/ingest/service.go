// Package ingest accepts raw machine telemetry and folds it into the usage
// rollups and the tool projection.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/clock"
	obsmetrics "github.com/diewerk/toolledger/internal/observability/metrics"
	"github.com/diewerk/toolledger/internal/ratelimit"
	"github.com/diewerk/toolledger/internal/rollup"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidToolID    = errors.New("invalid_tool_id")
	ErrInvalidMachineID = errors.New("invalid_machine_id")
	ErrInvalidDelta     = errors.New("invalid_usage_delta")
	ErrRateLimited      = errors.New("machine_rate_limited")
)

type Sample struct {
	ToolID           string    `json:"tool_id"`
	MachineID        int64     `json:"machine_id"`
	RevolutionsDelta int64     `json:"revolutions_delta"`
	HLPDelta         int64     `json:"hlp_delta"`
	SampledAt        time.Time `json:"sampled_at"`
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    tooldomain.Repository
	Rollup  *rollup.Service
	Limiter *ratelimit.MachineIngestLimiter `optional:"true"`
	Metrics *obsmetrics.Metrics             `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    tooldomain.Repository
	rollup  *rollup.Service
	limiter *ratelimit.MachineIngestLimiter
	metrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ingest.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		rollup:  p.Rollup,
		limiter: p.Limiter,
		metrics: p.Metrics,
	}
}

// RecordSample validates one telemetry sample, folds its deltas into the
// day's rollup and advances the tool's lifetime HLP total, both in one
// transaction. The date bucket is fixed at ingest time from the sample
// instant in the plant zone.
func (s *Service) RecordSample(ctx context.Context, sample Sample) error {
	toolID, err := snowflake.ParseString(strings.TrimSpace(sample.ToolID))
	if err != nil || toolID == 0 {
		return ErrInvalidToolID
	}
	if sample.MachineID <= 0 {
		return ErrInvalidMachineID
	}
	if sample.RevolutionsDelta < 0 || sample.HLPDelta < 0 {
		return ErrInvalidDelta
	}
	sampledAt := sample.SampledAt
	if sampledAt.IsZero() {
		sampledAt = s.clock.Now()
	}

	if s.limiter.Enabled() {
		result, err := s.limiter.AllowMachine(ctx, sample.MachineID)
		if err != nil {
			// Redis being down must not stall the plant floor; log and let the
			// sample through.
			s.log.Warn("machine rate limit check failed", zap.Int64("machine_id", sample.MachineID), zap.Error(err))
		} else if !result.Allowed {
			if s.metrics != nil {
				s.metrics.RecordRateLimitDenied(ctx, "machine", "token_bucket")
			}
			return ErrRateLimited
		}
	}

	usageDate := s.rollup.Bucket(sampledAt)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tool, err := s.repo.GetForUpdate(ctx, tx, toolID, false)
		if err != nil {
			return err
		}
		if tool.Retired() {
			return tooldomain.ErrToolRetired
		}

		tool.TotalHLP += sample.HLPDelta
		tool.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, tool); err != nil {
			return err
		}

		return s.rollup.MergeTx(ctx, tx, rollup.MergeRequest{
			ToolID:           toolID,
			MachineID:        sample.MachineID,
			UsageDate:        usageDate,
			RevolutionsDelta: sample.RevolutionsDelta,
			HLPDelta:         sample.HLPDelta,
			Source:           "ingest",
		})
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordUsageSample(ctx)
	}
	return nil
}

var Module = fx.Module("ingest.service",
	fx.Provide(NewService),
)
