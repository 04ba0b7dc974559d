// Package reconcile sweeps the tool projections and repairs ledger drift.
package reconcile

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	ToolSvc tooldomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	toolSvc tooldomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("reconcile.service"),
		toolSvc: p.ToolSvc,
	}
}

// Summary reports one sweep's outcome.
type Summary struct {
	Scanned  int
	Drifted  int
	Repaired int
	Skipped  int
}

// SweepAll walks every live tool in keyset batches and recomputes each
// projection from its ledger. Rows held by a concurrent mutation are skipped
// rather than waited on; the next sweep picks them up.
func (s *Service) SweepAll(ctx context.Context, batchSize int) (Summary, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var (
		summary Summary
		lastID  snowflake.ID
		jobErr  error
	)
	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		var ids []snowflake.ID
		err := s.db.WithContext(ctx).Model(&tooldomain.Tool{}).
			Where("id > ?", lastID).
			Where("status <> ?", tooldomain.StatusDeleted).
			Order("id asc").
			Limit(batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			return summary, jobErr
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			lastID = id

			result, err := s.toolSvc.Recompute(ctx, tooldomain.RecomputeRequest{
				ToolID:     id.String(),
				SkipLocked: true,
			})
			if err != nil {
				if errors.Is(err, tooldomain.ErrToolNotFound) {
					continue
				}
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("failed to recompute tool projection",
					zap.String("tool_id", id.String()),
					zap.Error(err),
				)
				continue
			}

			summary.Scanned++
			if result.Skipped {
				summary.Skipped++
				continue
			}
			if result.Drifted {
				summary.Drifted++
				summary.Repaired += len(result.RepairedFields)
			}
		}
	}
}

var Module = fx.Module("reconcile.service",
	fx.Provide(NewService),
)
