package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/tool/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// lockingClause applies a FOR UPDATE row lock where the engine supports it.
// sqlite serializes writers on its own and rejects the syntax.
func lockingClause(tx *gorm.DB, skipLocked bool) *gorm.DB {
	if strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		return tx
	}
	locking := clause.Locking{Strength: "UPDATE"}
	if skipLocked {
		locking.Options = "SKIP LOCKED"
	}
	return tx.Clauses(locking)
}

func (r *repo) GetForUpdate(ctx context.Context, tx *gorm.DB, toolID snowflake.ID, skipLocked bool) (*domain.Tool, error) {
	var tool domain.Tool
	err := lockingClause(tx.WithContext(ctx), skipLocked).
		Where("id = ?", toolID).
		First(&tool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if skipLocked {
				return nil, nil
			}
			return nil, domain.ErrToolNotFound
		}
		return nil, err
	}
	return &tool, nil
}

func (r *repo) Get(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) (*domain.Tool, error) {
	var tool domain.Tool
	err := tx.WithContext(ctx).Where("id = ?", toolID).First(&tool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrToolNotFound
		}
		return nil, err
	}
	return &tool, nil
}

func (r *repo) GetByBusinessKey(ctx context.Context, tx *gorm.DB, materialID, batchID string) (*domain.Tool, error) {
	var tool domain.Tool
	err := tx.WithContext(ctx).
		Where("material_id = ? AND batch_id = ?", materialID, batchID).
		First(&tool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tool, nil
}

func (r *repo) Create(ctx context.Context, tx *gorm.DB, tool *domain.Tool) error {
	return tx.WithContext(ctx).Create(tool).Error
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, tool *domain.Tool) error {
	return tx.WithContext(ctx).Save(tool).Error
}

func (r *repo) InsertEvent(ctx context.Context, tx *gorm.DB, event *domain.MaintenanceEvent) error {
	return tx.WithContext(ctx).Create(event).Error
}

func (r *repo) GetEvent(ctx context.Context, tx *gorm.DB, eventID snowflake.ID) (*domain.MaintenanceEvent, error) {
	var event domain.MaintenanceEvent
	err := tx.WithContext(ctx).Where("id = ?", eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) DeleteEvent(ctx context.Context, tx *gorm.DB, eventID snowflake.ID) error {
	return tx.WithContext(ctx).
		Where("id = ?", eventID).
		Delete(&domain.MaintenanceEvent{}).Error
}

func (r *repo) SoftDeleteEvents(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) error {
	return tx.WithContext(ctx).
		Model(&domain.MaintenanceEvent{}).
		Where("tool_id = ? AND is_deleted = ?", toolID, false).
		Update("is_deleted", true).Error
}

func (r *repo) LatestEvent(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) (*domain.MaintenanceEvent, error) {
	var event domain.MaintenanceEvent
	err := tx.WithContext(ctx).
		Where("tool_id = ? AND is_deleted = ?", toolID, false).
		Order("occurred_at desc, id desc").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) NextSequence(ctx context.Context, tx *gorm.DB, toolID snowflake.ID, eventType domain.EventType) (int, error) {
	var maxSequence int
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(event_sequence), 0)
		 FROM tool_maintenance_events
		 WHERE tool_id = ? AND event_type = ? AND is_deleted = ?`,
		toolID,
		eventType,
		false,
	).Scan(&maxSequence).Error
	if err != nil {
		return 0, err
	}
	return maxSequence + 1, nil
}

func (r *repo) ListEvents(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) ([]domain.MaintenanceEvent, error) {
	var events []domain.MaintenanceEvent
	err := tx.WithContext(ctx).
		Where("tool_id = ? AND is_deleted = ?", toolID, false).
		Order("occurred_at asc, id asc").
		Find(&events).Error
	return events, err
}

func (r *repo) ListAllEvents(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) ([]domain.MaintenanceEvent, error) {
	var events []domain.MaintenanceEvent
	err := tx.WithContext(ctx).
		Where("tool_id = ?", toolID).
		Order("occurred_at asc, id asc").
		Find(&events).Error
	return events, err
}
