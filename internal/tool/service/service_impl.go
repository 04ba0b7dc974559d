package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/diewerk/toolledger/internal/audit/domain"
	"github.com/diewerk/toolledger/internal/clock"
	obsmetrics "github.com/diewerk/toolledger/internal/observability/metrics"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/diewerk/toolledger/pkg/db/option"
	"github.com/diewerk/toolledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     tooldomain.Repository
	AuditSvc auditdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     tooldomain.Repository
	auditSvc auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) tooldomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("tool.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// runProjectionTx executes fn in a transaction and retries once on a
// concurrent-update conflict, re-reading the projection inside the retried
// transaction. A second conflict surfaces as ErrConflict.
func (s *Service) runProjectionTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err == nil || !pkgdb.IsSerializationErr(err) {
		return err
	}
	s.log.Debug("retrying projection transaction after conflict", zap.Error(err))
	err = s.db.WithContext(ctx).Transaction(fn)
	if err != nil && pkgdb.IsSerializationErr(err) {
		return tooldomain.ErrConflict
	}
	return err
}

func (s *Service) Register(ctx context.Context, req tooldomain.RegisterToolRequest) (*tooldomain.Tool, error) {
	materialID := strings.TrimSpace(req.MaterialID)
	if materialID == "" {
		return nil, tooldomain.ErrInvalidMaterial
	}
	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		return nil, tooldomain.ErrInvalidBatch
	}
	toolType, ok := tooldomain.ParseToolType(req.Type)
	if !ok {
		return nil, tooldomain.ErrInvalidToolType
	}
	if req.BaselineToolLife < 0 {
		return nil, tooldomain.ErrInvalidBaseline
	}

	now := s.clock.Now()
	tool := &tooldomain.Tool{
		ID:               s.genID.Generate(),
		MaterialID:       materialID,
		BatchID:          batchID,
		Type:             toolType,
		Format:           strings.TrimSpace(req.Format),
		Status:           tooldomain.StatusRunning,
		CurrentToolLife:  req.BaselineToolLife,
		BaselineToolLife: req.BaselineToolLife,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if factoryID := parseOptionalID(req.FactoryID); factoryID != 0 {
		tool.CurrentFactoryID = &factoryID
	}

	err := s.runProjectionTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, tool); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return tooldomain.ErrToolExists
			}
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			ActorID:    req.ActorID,
			Action:     "tool.registered",
			TargetType: auditdomain.TargetTypeTool,
			TargetID:   tool.ID.String(),
			Metadata: map[string]any{
				"material_id": materialID,
				"batch_id":    batchID,
				"type":        string(toolType),
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return tool, nil
}

func (s *Service) Get(ctx context.Context, toolID string) (*tooldomain.Tool, error) {
	id, err := parseID(toolID, tooldomain.ErrInvalidToolID)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, req tooldomain.ListToolsRequest) (tooldomain.ListToolsResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	stmt := s.db.WithContext(ctx).Model(&tooldomain.Tool{})
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return tooldomain.ListToolsResponse{}, err
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return tooldomain.ListToolsResponse{}, err
		}
		stmt = stmt.Where("id > ?", after)
	}
	if toolType := strings.TrimSpace(req.Type); toolType != "" {
		parsed, ok := tooldomain.ParseToolType(toolType)
		if !ok {
			return tooldomain.ListToolsResponse{}, tooldomain.ErrInvalidToolType
		}
		stmt = stmt.Where("type = ?", parsed)
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if !req.IncludeRetired {
		stmt = stmt.Where("status <> ?", tooldomain.StatusDeleted)
	}
	stmt = option.WithSortBy("id", false).Apply(stmt)
	stmt = option.WithLimit(pageSize + 1).Apply(stmt)

	var tools []*tooldomain.Tool
	if err := stmt.Find(&tools).Error; err != nil {
		return tooldomain.ListToolsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(tools, int32(pageSize), func(tool *tooldomain.Tool) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: tool.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(tools) > pageSize {
		tools = tools[:pageSize]
	}

	items := make([]tooldomain.Tool, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		items = append(items, *tool)
	}

	resp := tooldomain.ListToolsResponse{Tools: items}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req tooldomain.UpdateToolRequest) (*tooldomain.Tool, error) {
	id, err := parseID(req.ToolID, tooldomain.ErrInvalidToolID)
	if err != nil {
		return nil, err
	}

	var updated *tooldomain.Tool
	err = s.runProjectionTx(ctx, func(tx *gorm.DB) error {
		tool, err := s.repo.GetForUpdate(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if tool.Retired() {
			return tooldomain.ErrToolRetired
		}

		now := s.clock.Now()
		var changes []auditdomain.FieldChange

		if req.Format != nil && strings.TrimSpace(*req.Format) != tool.Format {
			next := strings.TrimSpace(*req.Format)
			changes = append(changes, auditdomain.FieldChange{Field: "format", OldValue: tool.Format, NewValue: next})
			tool.Format = next
		}
		if req.FactoryID != nil {
			next := parseOptionalID(*req.FactoryID)
			if !sameFactory(tool.CurrentFactoryID, next) {
				changes = append(changes, auditdomain.FieldChange{
					Field:    auditdomain.FieldFactory,
					OldValue: factoryValue(tool.CurrentFactoryID),
					NewValue: idValue(next),
				})
				if next == 0 {
					tool.CurrentFactoryID = nil
				} else {
					tool.CurrentFactoryID = &next
				}
			}
		}
		if req.Status != nil {
			next := tooldomain.ToolStatus(strings.TrimSpace(*req.Status))
			if next == "" || next == tooldomain.StatusDeleted {
				return tooldomain.ErrInvalidStatus
			}
			if next != tool.Status {
				changes = append(changes, auditdomain.FieldChange{
					Field:    auditdomain.FieldStatus,
					OldValue: string(tool.Status),
					NewValue: string(next),
				})
				tool.Status = next
			}
		}

		if len(changes) == 0 {
			updated = tool
			return nil
		}

		tool.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, tool); err != nil {
			return err
		}
		updated = tool
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			ActorID:      req.ActorID,
			Action:       "tool.updated",
			TargetType:   auditdomain.TargetTypeTool,
			TargetID:     tool.ID.String(),
			FieldChanges: changes,
			OccurredAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Retire soft-deletes the tool and its ledger. The rows stay queryable for
// audit and history.
func (s *Service) Retire(ctx context.Context, req tooldomain.RetireToolRequest) (*tooldomain.Tool, error) {
	id, err := parseID(req.ToolID, tooldomain.ErrInvalidToolID)
	if err != nil {
		return nil, err
	}

	var retired *tooldomain.Tool
	err = s.runProjectionTx(ctx, func(tx *gorm.DB) error {
		tool, err := s.repo.GetForUpdate(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if tool.Retired() {
			retired = tool
			return nil
		}

		now := s.clock.Now()
		previousStatus := tool.Status
		tool.Status = tooldomain.StatusDeleted
		tool.RetiredAt = &now
		tool.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, tool); err != nil {
			return err
		}
		if err := s.repo.SoftDeleteEvents(ctx, tx, tool.ID); err != nil {
			return err
		}
		retired = tool
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			ActorID:    req.ActorID,
			Action:     "tool.retired",
			TargetType: auditdomain.TargetTypeTool,
			TargetID:   tool.ID.String(),
			FieldChanges: []auditdomain.FieldChange{{
				Field:    auditdomain.FieldStatus,
				OldValue: string(previousStatus),
				NewValue: string(tooldomain.StatusDeleted),
			}},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return retired, nil
}

func (s *Service) ApplyMaintenanceEvent(ctx context.Context, req tooldomain.ApplyEventRequest) (*tooldomain.ApplyEventResponse, error) {
	id, err := parseID(req.ToolID, tooldomain.ErrInvalidToolID)
	if err != nil {
		return nil, err
	}
	eventType, ok := tooldomain.ParseEventType(req.EventType)
	if !ok {
		return nil, tooldomain.ErrInvalidEventType
	}
	if req.LifeConsumed != nil && *req.LifeConsumed < 0 {
		return nil, tooldomain.ErrInvalidLife
	}

	var resp tooldomain.ApplyEventResponse
	err = s.runProjectionTx(ctx, func(tx *gorm.DB) error {
		tool, err := s.repo.GetForUpdate(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if tool.Retired() {
			return tooldomain.ErrToolRetired
		}

		lifeConsumed := float64(0)
		if req.LifeConsumed != nil {
			lifeConsumed = *req.LifeConsumed
		} else {
			latest, err := s.repo.LatestEvent(ctx, tx, tool.ID)
			if err != nil {
				return err
			}
			if latest != nil {
				lifeConsumed = tool.CurrentToolLife - latest.ToolLifeAtEvent
				if lifeConsumed < 0 {
					lifeConsumed = 0
				}
			}
		}

		sequence, err := s.repo.NextSequence(ctx, tx, tool.ID, eventType)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		previousStatus := tool.Status

		tool.CurrentToolLife += lifeConsumed
		switch eventType {
		case tooldomain.EventTypeRegrinding:
			tool.NumberOfRegrinding++
		case tooldomain.EventTypeResegmentation:
			tool.NumberOfResegmentation++
		}
		tool.Status = eventType.MaintenanceStatus()
		tool.UpdatedAt = now

		event := tooldomain.MaintenanceEvent{
			ID:              s.genID.Generate(),
			ToolID:          tool.ID,
			EventType:       eventType,
			ToolLifeAtEvent: tool.CurrentToolLife,
			LifeConsumed:    lifeConsumed,
			EventSequence:   sequence,
			HLPCountAtEvent: tool.TotalHLP,
			OccurredAt:      now,
			CreatedAt:       now,
		}

		if err := s.repo.Save(ctx, tx, tool); err != nil {
			return err
		}
		if err := s.repo.InsertEvent(ctx, tx, &event); err != nil {
			return err
		}
		if err := s.checkInvariants(tool); err != nil {
			return err
		}

		resp = tooldomain.ApplyEventResponse{Tool: *tool, Event: event}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			ActorID:    req.ActorID,
			Action:     "tool.maintenance_event_applied",
			TargetType: auditdomain.TargetTypeTool,
			TargetID:   tool.ID.String(),
			FieldChanges: []auditdomain.FieldChange{{
				Field:    auditdomain.FieldStatus,
				OldValue: string(previousStatus),
				NewValue: string(tool.Status),
			}},
			Metadata: map[string]any{
				"event_id":       event.ID.String(),
				"event_type":     string(eventType),
				"event_sequence": sequence,
				"life_consumed":  lifeConsumed,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordEventApplied(ctx, string(eventType))
	}
	return &resp, nil
}

// ReverseMaintenanceEvent hard-deletes a ledger entry and rolls the matching
// counter back. CurrentToolLife is deliberately left alone: consumed life is a
// physical fact even when the administrative record of why is withdrawn. The
// withdrawn entry's consumption folds into the baseline instead, so replaying
// the remaining ledger still yields the projected life.
func (s *Service) ReverseMaintenanceEvent(ctx context.Context, req tooldomain.ReverseEventRequest) (*tooldomain.ReverseEventResponse, error) {
	eventID, err := parseID(req.EventID, tooldomain.ErrInvalidEventID)
	if err != nil {
		return nil, err
	}

	var (
		resp      tooldomain.ReverseEventResponse
		eventType tooldomain.EventType
	)
	err = s.runProjectionTx(ctx, func(tx *gorm.DB) error {
		event, err := s.repo.GetEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		tool, err := s.repo.GetForUpdate(ctx, tx, event.ToolID, false)
		if err != nil {
			return err
		}
		if tool.Retired() {
			return tooldomain.ErrToolRetired
		}
		eventType = event.EventType

		if err := s.repo.DeleteEvent(ctx, tx, event.ID); err != nil {
			return err
		}

		now := s.clock.Now()
		switch event.EventType {
		case tooldomain.EventTypeRegrinding:
			if tool.NumberOfRegrinding > 0 {
				tool.NumberOfRegrinding--
			}
		case tooldomain.EventTypeResegmentation:
			if tool.NumberOfResegmentation > 0 {
				tool.NumberOfResegmentation--
			}
		}
		tool.BaselineToolLife += event.LifeConsumed

		statusReverted := false
		previousStatus := tool.Status
		if tool.CounterFor(event.EventType) == 0 && tool.Status == event.EventType.MaintenanceStatus() {
			tool.Status = tooldomain.StatusRunning
			statusReverted = true
		}
		tool.UpdatedAt = now

		if err := s.repo.Save(ctx, tx, tool); err != nil {
			return err
		}
		if err := s.checkInvariants(tool); err != nil {
			return err
		}

		resp = tooldomain.ReverseEventResponse{Tool: *tool, StatusReverted: statusReverted}

		entry := auditdomain.Entry{
			ActorID:    req.ActorID,
			Action:     "tool.maintenance_event_reversed",
			TargetType: auditdomain.TargetTypeTool,
			TargetID:   tool.ID.String(),
			Metadata: map[string]any{
				"event_id":   event.ID.String(),
				"event_type": string(event.EventType),
			},
			OccurredAt: now,
		}
		if statusReverted {
			entry.FieldChanges = []auditdomain.FieldChange{{
				Field:    auditdomain.FieldStatus,
				OldValue: string(previousStatus),
				NewValue: string(tooldomain.StatusRunning),
			}}
		}
		return s.auditSvc.Record(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordEventReversed(ctx, string(eventType), resp.StatusReverted)
	}
	return &resp, nil
}

// checkInvariants guards the projection after a write. A failure here is a
// bug, not bad input: the transaction rolls back and the error is logged
// distinctly from validation failures.
func (s *Service) checkInvariants(tool *tooldomain.Tool) error {
	var reason string
	switch {
	case tool.NumberOfRegrinding < 0 || tool.NumberOfResegmentation < 0:
		reason = "negative maintenance counter"
	case tool.CurrentToolLife < 0:
		reason = "negative tool life"
	case tool.TotalHLP < 0:
		reason = "negative hlp total"
	case tool.CurrentToolLife+1e-9 < tool.BaselineToolLife:
		reason = "tool life below baseline"
	}
	if reason == "" {
		return nil
	}
	err := fmt.Errorf("%w: %s", tooldomain.ErrConsistency, reason)
	s.log.Error("projection invariant violated",
		zap.String("tool_id", tool.ID.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func parseOptionalID(value string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0
	}
	return id
}

func sameFactory(current *snowflake.ID, next snowflake.ID) bool {
	if current == nil {
		return next == 0
	}
	return *current == next
}

func factoryValue(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func idValue(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
