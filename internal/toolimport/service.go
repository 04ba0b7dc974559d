package toolimport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/diewerk/toolledger/internal/audit/domain"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	obsmetrics "github.com/diewerk/toolledger/internal/observability/metrics"
	"github.com/diewerk/toolledger/internal/ratelimit"
	"github.com/diewerk/toolledger/internal/rollup"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	importLockKeyFormat = "import:tool:%s:%s"
	importLockTTL       = 30 * time.Second
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     tooldomain.Repository
	Rollup   *rollup.Service
	AuditSvc auditdomain.Service
	Locker   *ratelimit.Locker   `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	maxBatch int
	repo     tooldomain.Repository
	rollup   *rollup.Service
	auditSvc auditdomain.Service
	locker   *ratelimit.Locker
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("toolimport.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		maxBatch: p.Config.ImportMaxBatch,
		repo:     p.Repo,
		rollup:   p.Rollup,
		auditSvc: p.AuditSvc,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}
}

// ImportTools processes the batch tool by tool, each in its own transaction.
// One bad item never aborts the rest; the result carries per-item outcomes.
func (s *Service) ImportTools(ctx context.Context, req ImportRequest) (ImportResult, error) {
	if s.maxBatch > 0 && len(req.Tools) > s.maxBatch {
		return ImportResult{}, ErrBatchTooLarge
	}

	result := ImportResult{
		Successes: make([]ImportSuccess, 0, len(req.Tools)),
		Failures:  make([]ImportFailure, 0),
	}
	for i, spec := range req.Tools {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		success, err := s.importOne(ctx, spec, req.ActorID)
		if err != nil {
			result.Failures = append(result.Failures, ImportFailure{
				Index:      i,
				MaterialID: strings.TrimSpace(spec.MaterialID),
				BatchID:    strings.TrimSpace(spec.BatchID),
				Reason:     err.Error(),
			})
			continue
		}
		result.Successes = append(result.Successes, *success)
	}

	if s.metrics != nil {
		s.metrics.AddToolsImported(ctx, "success", len(result.Successes))
		s.metrics.AddToolsImported(ctx, "failure", len(result.Failures))
	}
	s.log.Info("tool import batch processed",
		zap.Int("succeeded", len(result.Successes)),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

func (s *Service) importOne(ctx context.Context, spec ToolImportSpec, actorID string) (*ImportSuccess, error) {
	materialID := strings.TrimSpace(spec.MaterialID)
	batchID := strings.TrimSpace(spec.BatchID)

	if errs := validateSpec(spec); len(errs) > 0 {
		return nil, errs
	}
	toolType, _ := tooldomain.ParseToolType(spec.Type)

	// Identical business keys must not race across replicas; the redis mutex
	// serializes them. Other keys import concurrently.
	if s.locker != nil {
		key := fmt.Sprintf(importLockKeyFormat, materialID, batchID)
		token, acquired, err := s.locker.TryLock(ctx, key, importLockTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrImportInProgress
		}
		defer func() {
			if err := s.locker.Release(ctx, key, token); err != nil {
				s.log.Warn("failed to release import lock", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	events := orderedEvents(spec.LifecycleEvents)
	plan := buildReplayPlan(events)

	now := s.clock.Now()
	tool := &tooldomain.Tool{
		ID:                     s.genID.Generate(),
		MaterialID:             materialID,
		BatchID:                batchID,
		Type:                   toolType,
		Format:                 strings.TrimSpace(spec.Format),
		Status:                 tooldomain.StatusRunning,
		CurrentToolLife:        plan.finalLife,
		BaselineToolLife:       plan.baselineLife,
		TotalHLP:               plan.finalHLP,
		NumberOfRegrinding:     plan.regrindCount,
		NumberOfResegmentation: plan.resegCount,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if factoryID := parseOptionalID(spec.FactoryID); factoryID != 0 {
		tool.CurrentFactoryID = &factoryID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.GetByBusinessKey(ctx, tx, materialID, batchID)
		if err != nil {
			return err
		}
		if existing != nil {
			return tooldomain.ErrToolExists
		}
		if err := s.repo.Create(ctx, tx, tool); err != nil {
			return err
		}

		sequences := map[tooldomain.EventType]int{}
		for _, step := range plan.steps {
			sequences[step.eventType]++
			entry := tooldomain.MaintenanceEvent{
				ID:              s.genID.Generate(),
				ToolID:          tool.ID,
				EventType:       step.eventType,
				ToolLifeAtEvent: step.lifeAfter,
				LifeConsumed:    step.lifeConsumed,
				EventSequence:   sequences[step.eventType],
				HLPCountAtEvent: step.hlpAfter,
				OccurredAt:      step.occurredAt,
				CreatedAt:       now,
			}
			if err := s.repo.InsertEvent(ctx, tx, &entry); err != nil {
				return err
			}

			// Historical usage predates per-machine attribution; everything
			// lands on the reserved placeholder machine.
			if step.lifeConsumed > 0 || step.hlpDelta > 0 {
				if err := s.rollup.MergeTx(ctx, tx, rollup.MergeRequest{
					ToolID:           tool.ID,
					MachineID:        rollup.HistoricalMachineID,
					UsageDate:        s.rollup.Bucket(step.occurredAt),
					RevolutionsDelta: int64(step.lifeConsumed),
					HLPDelta:         step.hlpDelta,
					Source:           "import",
				}); err != nil {
					return err
				}
			}
		}

		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			ActorID:    actorID,
			Action:     "tool.imported",
			TargetType: auditdomain.TargetTypeTool,
			TargetID:   tool.ID.String(),
			Metadata: map[string]any{
				"material_id": materialID,
				"batch_id":    batchID,
				"event_count": len(plan.steps),
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	return &ImportSuccess{
		ToolID:     tool.ID.String(),
		MaterialID: materialID,
		BatchID:    batchID,
		EventCount: len(plan.steps),
	}, nil
}

func validateSpec(spec ToolImportSpec) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(spec.MaterialID) == "" {
		errs = append(errs, FieldError{Field: "material_id", Message: "required"})
	}
	if strings.TrimSpace(spec.BatchID) == "" {
		errs = append(errs, FieldError{Field: "batch_id", Message: "required"})
	}
	if _, ok := tooldomain.ParseToolType(spec.Type); !ok {
		errs = append(errs, FieldError{Field: "type", Message: "must be one of cutting, creasing, embossing"})
	}
	for i, event := range spec.LifecycleEvents {
		eventType := strings.ToLower(strings.TrimSpace(event.Type))
		if eventType == LifecycleEventInitial {
			continue
		}
		if _, ok := tooldomain.ParseEventType(eventType); !ok {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("lifecycle_events[%d].type", i),
				Message: "must be initial, regrinding or resegmentation",
			})
		}
	}
	return errs
}

// orderedEvents returns the supplied events sorted ascending by occurrence,
// preserving input order for equal timestamps.
func orderedEvents(events []LifecycleEvent) []LifecycleEvent {
	ordered := make([]LifecycleEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
	})
	return ordered
}

type replayStep struct {
	eventType    tooldomain.EventType
	lifeAfter    float64
	lifeConsumed float64
	hlpAfter     int64
	hlpDelta     int64
	occurredAt   time.Time
}

type replayPlan struct {
	steps        []replayStep
	baselineLife float64
	finalLife    float64
	finalHLP     int64
	regrindCount int
	resegCount   int
}

// buildReplayPlan walks the ordered events with a running life total starting
// at zero. The initial pseudo-event advances the total (becoming the
// baseline) without producing a ledger entry; every other event becomes one
// entry whose life_consumed is the difference from the running total. The
// resulting projection satisfies life = baseline + sum(consumed) exactly as
// if the tool had been live-tracked.
func buildReplayPlan(events []LifecycleEvent) replayPlan {
	plan := replayPlan{}
	runningLife := float64(0)
	runningHLP := int64(0)

	for _, event := range events {
		eventTypeName := strings.ToLower(strings.TrimSpace(event.Type))
		hlpDelta := event.HLPCount - runningHLP
		if hlpDelta < 0 {
			hlpDelta = 0
		}

		if eventTypeName == LifecycleEventInitial {
			if event.Life > runningLife {
				runningLife = event.Life
			}
			plan.baselineLife = runningLife
			runningHLP += hlpDelta
			continue
		}

		eventType, ok := tooldomain.ParseEventType(eventTypeName)
		if !ok {
			continue
		}

		consumed := event.Life - runningLife
		if consumed < 0 {
			consumed = 0
		}
		runningLife += consumed
		runningHLP += hlpDelta

		plan.steps = append(plan.steps, replayStep{
			eventType:    eventType,
			lifeAfter:    runningLife,
			lifeConsumed: consumed,
			hlpAfter:     runningHLP,
			hlpDelta:     hlpDelta,
			occurredAt:   event.OccurredAt,
		})
		switch eventType {
		case tooldomain.EventTypeRegrinding:
			plan.regrindCount++
		case tooldomain.EventTypeResegmentation:
			plan.resegCount++
		}
	}

	plan.finalLife = runningLife
	plan.finalHLP = runningHLP
	return plan
}

func parseOptionalID(value string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0
	}
	return id
}

var Module = fx.Module("toolimport.service",
	fx.Provide(NewService),
)
