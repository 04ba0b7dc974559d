// Package domain contains the tool projection and its maintenance ledger.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ToolType classifies what a tool does to the substrate.
type ToolType string

const (
	ToolTypeCutting   ToolType = "cutting"
	ToolTypeCreasing  ToolType = "creasing"
	ToolTypeEmbossing ToolType = "embossing"
)

// ParseToolType validates a free-form type value.
func ParseToolType(value string) (ToolType, bool) {
	switch ToolType(strings.ToLower(strings.TrimSpace(value))) {
	case ToolTypeCutting:
		return ToolTypeCutting, true
	case ToolTypeCreasing:
		return ToolTypeCreasing, true
	case ToolTypeEmbossing:
		return ToolTypeEmbossing, true
	default:
		return "", false
	}
}

// ToolStatus is the operational state of a tool. Deleted is a tagged retirement
// state; retired tools stay queryable for audit and history.
type ToolStatus string

const (
	StatusRunning               ToolStatus = "running"
	StatusSentForRegrinding     ToolStatus = "sent to madern for regrinding"
	StatusSentForResegmentation ToolStatus = "sent to madern for resegmentation"
	StatusDeleted               ToolStatus = "deleted"
)

// EventType identifies a maintenance operation. The two operations are counted
// and sequenced independently.
type EventType string

const (
	EventTypeRegrinding     EventType = "regrinding"
	EventTypeResegmentation EventType = "resegmentation"
)

// ParseEventType validates a free-form event type value.
func ParseEventType(value string) (EventType, bool) {
	switch EventType(strings.ToLower(strings.TrimSpace(value))) {
	case EventTypeRegrinding:
		return EventTypeRegrinding, true
	case EventTypeResegmentation:
		return EventTypeResegmentation, true
	default:
		return "", false
	}
}

// MaintenanceStatus returns the status a tool transitions into when an event
// of this type is applied.
func (t EventType) MaintenanceStatus() ToolStatus {
	if t == EventTypeResegmentation {
		return StatusSentForResegmentation
	}
	return StatusSentForRegrinding
}

// Tool is the mutable current-state projection derived from the maintenance
// ledger. CurrentToolLife and the two counters must always equal what a full
// replay of the non-deleted ledger yields.
type Tool struct {
	ID                     snowflake.ID  `gorm:"primaryKey"`
	MaterialID             string        `gorm:"type:text;not null;uniqueIndex:idx_tools_material_batch"`
	BatchID                string        `gorm:"type:text;not null;uniqueIndex:idx_tools_material_batch"`
	Type                   ToolType      `gorm:"type:text;not null"`
	Format                 string        `gorm:"type:text;not null;default:''"`
	CurrentFactoryID       *snowflake.ID `gorm:""`
	Status                 ToolStatus    `gorm:"type:text;not null;default:'running'"`
	CurrentToolLife        float64       `gorm:"not null;default:0"`
	BaselineToolLife       float64       `gorm:"not null;default:0"`
	TotalHLP               int64         `gorm:"column:total_hlp;not null;default:0"`
	NumberOfRegrinding     int           `gorm:"not null;default:0"`
	NumberOfResegmentation int           `gorm:"not null;default:0"`
	RetiredAt              *time.Time    `gorm:""`
	CreatedAt              time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tool) TableName() string { return "tools" }

// Retired reports whether the tool has been soft-deleted.
func (t *Tool) Retired() bool { return t.Status == StatusDeleted }

// CounterFor returns the projection counter for an event type.
func (t *Tool) CounterFor(eventType EventType) int {
	if eventType == EventTypeResegmentation {
		return t.NumberOfResegmentation
	}
	return t.NumberOfRegrinding
}

// MaintenanceEvent is a ledger entry. Rows are immutable once written; the
// only permitted mutations are the soft-delete flag on tool retirement and the
// hard delete performed by an event reversal.
type MaintenanceEvent struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	ToolID          snowflake.ID `gorm:"not null;index"`
	EventType       EventType    `gorm:"type:text;not null"`
	ToolLifeAtEvent float64      `gorm:"not null;default:0"`
	LifeConsumed    float64      `gorm:"not null;default:0"`
	EventSequence   int          `gorm:"not null"`
	HLPCountAtEvent int64        `gorm:"column:hlp_count_at_event;not null;default:0"`
	OccurredAt      time.Time    `gorm:"not null"`
	IsDeleted       bool         `gorm:"not null;default:false"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MaintenanceEvent) TableName() string { return "tool_maintenance_events" }
