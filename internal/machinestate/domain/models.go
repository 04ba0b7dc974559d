// Package domain contains the tool/machine status stream and its resolver.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Statuses a tool can report against a machine.
const (
	StatusInDrive = "in_drive"
	StatusRemoved = "removed"
)

// StatusRecord is one observation in the append-only status stream. Records
// are never updated or deleted; current state is always resolved from the
// stream at query time.
type StatusRecord struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ToolID     snowflake.ID `gorm:"not null;index"`
	MachineID  int64        `gorm:"not null;index"`
	Status     string       `gorm:"type:text;not null"`
	RecordedAt time.Time    `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (StatusRecord) TableName() string { return "tool_status_records" }

type IngestRequest struct {
	ToolID     string    `json:"tool_id"`
	MachineID  int64     `json:"machine_id"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ActiveTool is a resolved (tool, machine) placement.
type ActiveTool struct {
	ToolID     snowflake.ID `json:"tool_id"`
	MachineID  int64        `json:"machine_id"`
	Status     string       `json:"status"`
	RecordedAt time.Time    `json:"recorded_at"`
}

type Service interface {
	// Ingest appends one status record to the stream.
	Ingest(ctx context.Context, req IngestRequest) (*StatusRecord, error)
	// ActiveOnMachine resolves which tools are currently in drive on a machine.
	ActiveOnMachine(ctx context.Context, machineID int64) ([]ActiveTool, error)
	// ActiveAnywhere resolves every tool currently in drive, optionally
	// restricted to a tool type.
	ActiveAnywhere(ctx context.Context, toolType string) ([]ActiveTool, error)
}

var (
	ErrInvalidToolID    = errors.New("invalid_tool_id")
	ErrInvalidMachineID = errors.New("invalid_machine_id")
	ErrInvalidStatus    = errors.New("invalid_machine_status")
	ErrInvalidTimestamp = errors.New("invalid_recorded_at")
)
