// Package domain contains the field-change audit trail models.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Actor types recorded on audit entries.
const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Common target types.
const (
	TargetTypeTool             = "tool"
	TargetTypeMaintenanceEvent = "maintenance_event"
)

// FieldChange is one before/after pair inside an audit entry. The status field
// name is what the history reconstructor uses to correlate entries with the
// maintenance ledger.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// FieldStatus and FieldFactory are the field names the history reconstructor
// treats specially.
const (
	FieldStatus  = "status"
	FieldFactory = "current_factory_id"
)

// AuditLog stores one mutation's field changes and actor.
type AuditLog struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	ActorType     string            `gorm:"type:text;not null"`
	ActorID       *string           `gorm:"type:text"`
	Action        string            `gorm:"type:text;not null"`
	TargetType    string            `gorm:"type:text;not null"`
	TargetID      *string           `gorm:"type:text"`
	FieldChanges  datatypes.JSON    `gorm:"type:jsonb"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	RequestID     *string           `gorm:"type:text"`
	CorrelationID *string           `gorm:"type:text"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// DecodeFieldChanges unpacks the field_changes payload. Malformed payloads
// yield nil rather than an error; the trail is best-effort on reads.
func (a AuditLog) DecodeFieldChanges() []FieldChange {
	if len(a.FieldChanges) == 0 {
		return nil
	}
	var changes []FieldChange
	if err := json.Unmarshal(a.FieldChanges, &changes); err != nil {
		return nil
	}
	return changes
}
