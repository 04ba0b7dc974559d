package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/diewerk/toolledger/internal/audit/domain"
	obscontext "github.com/diewerk/toolledger/internal/observability/context"
	"github.com/diewerk/toolledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		return auditdomain.ErrInvalidTarget
	}

	actorType, actorID := resolveActor(ctx, entry.ActorID)

	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   optionalString(entry.TargetID),
		CreatedAt:  occurredAt,
	}

	if len(entry.FieldChanges) > 0 {
		encoded, err := json.Marshal(entry.FieldChanges)
		if err != nil {
			return err
		}
		row.FieldChanges = datatypes.JSON(encoded)
	}
	if len(entry.Metadata) > 0 {
		row.Metadata = datatypes.JSONMap(entry.Metadata)
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		row.RequestID = &requestID
	}
	if correlationID := correlation.ExtractCorrelationID(ctx); correlationID != "" {
		row.CorrelationID = &correlationID
	}

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &row); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) ListByTarget(ctx context.Context, req auditdomain.ListByTargetRequest) ([]auditdomain.AuditLog, error) {
	if strings.TrimSpace(req.TargetType) == "" {
		return nil, auditdomain.ErrInvalidTarget
	}
	return s.repo.ListByTarget(ctx, s.db, req.TargetType, req.TargetID, req.Limit)
}

func resolveActor(ctx context.Context, actorID string) (string, *string) {
	actorID = strings.TrimSpace(actorID)
	if actorID != "" {
		return auditdomain.ActorTypeUser, &actorID
	}
	if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
		return ctxType, optionalString(ctxID)
	}
	return auditdomain.ActorTypeSystem, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
