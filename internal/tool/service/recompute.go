package service

import (
	"context"
	"math"

	auditdomain "github.com/diewerk/toolledger/internal/audit/domain"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// lifeEpsilon absorbs float accumulation noise when comparing the projected
// life against the replayed ledger sum.
const lifeEpsilon = 1e-6

// Recompute replays the non-deleted ledger and repairs any projection field
// that drifted. It never touches TotalHLP: usage counts flow from ingest, not
// from the maintenance ledger.
func (s *Service) Recompute(ctx context.Context, req tooldomain.RecomputeRequest) (tooldomain.RecomputeResult, error) {
	id, err := parseID(req.ToolID, tooldomain.ErrInvalidToolID)
	if err != nil {
		return tooldomain.RecomputeResult{}, err
	}

	result := tooldomain.RecomputeResult{ToolID: id.String()}
	err = s.runProjectionTx(ctx, func(tx *gorm.DB) error {
		tool, err := s.repo.GetForUpdate(ctx, tx, id, req.SkipLocked)
		if err != nil {
			return err
		}
		if tool == nil {
			result.Skipped = true
			return nil
		}

		events, err := s.repo.ListEvents(ctx, tx, tool.ID)
		if err != nil {
			return err
		}

		expectedLife := tool.BaselineToolLife
		expectedRegrind := 0
		expectedReseg := 0
		for _, event := range events {
			expectedLife += event.LifeConsumed
			switch event.EventType {
			case tooldomain.EventTypeRegrinding:
				expectedRegrind++
			case tooldomain.EventTypeResegmentation:
				expectedReseg++
			}
		}

		var repaired []string
		if math.Abs(tool.CurrentToolLife-expectedLife) > lifeEpsilon {
			tool.CurrentToolLife = expectedLife
			repaired = append(repaired, "current_tool_life")
		}
		if tool.NumberOfRegrinding != expectedRegrind {
			tool.NumberOfRegrinding = expectedRegrind
			repaired = append(repaired, "number_of_regrinding")
		}
		if tool.NumberOfResegmentation != expectedReseg {
			tool.NumberOfResegmentation = expectedReseg
			repaired = append(repaired, "number_of_resegmentation")
		}

		result.RepairedFields = repaired
		result.Drifted = len(repaired) > 0
		if !result.Drifted {
			return nil
		}

		now := s.clock.Now()
		tool.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, tool); err != nil {
			return err
		}
		s.log.Warn("repaired drifted projection",
			zap.String("tool_id", tool.ID.String()),
			zap.Strings("fields", repaired),
		)
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     "tool.projection_recomputed",
			TargetType: auditdomain.TargetTypeTool,
			TargetID:   tool.ID.String(),
			Metadata: map[string]any{
				"repaired_fields": repaired,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return tooldomain.RecomputeResult{}, err
	}

	if s.metrics != nil && result.Drifted {
		for _, field := range result.RepairedFields {
			s.metrics.RecordReconcileRepair(ctx, field)
		}
	}
	return result, nil
}
