package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository gives the service transactional access to the projection row and
// its ledger. Callers pass the enclosing transaction explicitly so the ledger
// write and the projection update always share one boundary.
type Repository interface {
	// GetForUpdate loads the projection row under a row lock. With skipLocked
	// it returns (nil, nil) when another transaction holds the row.
	GetForUpdate(ctx context.Context, tx *gorm.DB, toolID snowflake.ID, skipLocked bool) (*Tool, error)
	Get(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) (*Tool, error)
	GetByBusinessKey(ctx context.Context, tx *gorm.DB, materialID, batchID string) (*Tool, error)
	Create(ctx context.Context, tx *gorm.DB, tool *Tool) error
	Save(ctx context.Context, tx *gorm.DB, tool *Tool) error

	InsertEvent(ctx context.Context, tx *gorm.DB, event *MaintenanceEvent) error
	GetEvent(ctx context.Context, tx *gorm.DB, eventID snowflake.ID) (*MaintenanceEvent, error)
	DeleteEvent(ctx context.Context, tx *gorm.DB, eventID snowflake.ID) error
	SoftDeleteEvents(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) error

	// LatestEvent returns the most recent non-deleted ledger event for a tool,
	// or nil when the ledger is empty.
	LatestEvent(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) (*MaintenanceEvent, error)
	// NextSequence returns the next 1-based sequence for (tool, event type),
	// counting only non-deleted entries.
	NextSequence(ctx context.Context, tx *gorm.DB, toolID snowflake.ID, eventType EventType) (int, error)
	// ListEvents returns the tool's non-deleted ledger ordered by occurrence.
	ListEvents(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) ([]MaintenanceEvent, error)
	// ListAllEvents includes soft-deleted entries, for audit/history reads.
	ListAllEvents(ctx context.Context, tx *gorm.DB, toolID snowflake.ID) ([]MaintenanceEvent, error)
}
