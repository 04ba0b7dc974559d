package domain

import (
	"context"
	"errors"

	"github.com/diewerk/toolledger/pkg/db/pagination"
)

type RegisterToolRequest struct {
	MaterialID       string  `json:"material_id"`
	BatchID          string  `json:"batch_id"`
	Type             string  `json:"type"`
	Format           string  `json:"format"`
	FactoryID        string  `json:"factory_id"`
	BaselineToolLife float64 `json:"baseline_tool_life"`
	ActorID          string  `json:"actor_id"`
}

type ApplyEventRequest struct {
	ToolID string `json:"tool_id"`
	// EventType must be one of regrinding, resegmentation.
	EventType string `json:"event_type"`
	// LifeConsumed is the measured life delta. When nil the delta is derived
	// from the gap between the current cumulative life and the life recorded
	// at the most recent non-deleted ledger event (zero when no prior event).
	LifeConsumed *float64 `json:"life_consumed"`
	ActorID      string   `json:"actor_id"`
}

type ApplyEventResponse struct {
	Tool  Tool             `json:"tool"`
	Event MaintenanceEvent `json:"event"`
}

type ReverseEventRequest struct {
	EventID string `json:"event_id"`
	ActorID string `json:"actor_id"`
}

type ReverseEventResponse struct {
	Tool           Tool `json:"tool"`
	StatusReverted bool `json:"status_reverted"`
}

type UpdateToolRequest struct {
	ToolID    string  `json:"tool_id"`
	Format    *string `json:"format"`
	FactoryID *string `json:"factory_id"`
	Status    *string `json:"status"`
	ActorID   string  `json:"actor_id"`
}

type RetireToolRequest struct {
	ToolID  string `json:"tool_id"`
	ActorID string `json:"actor_id"`
}

type ListToolsRequest struct {
	pagination.Pagination
	Type   string `form:"type"`
	Status string `form:"status"`
	// IncludeRetired keeps soft-deleted tools in the result set.
	IncludeRetired bool `form:"include_retired"`
}

type ListToolsResponse struct {
	pagination.PageInfo
	Tools []Tool `json:"tools"`
}

type RecomputeRequest struct {
	ToolID string `json:"tool_id"`
	// SkipLocked makes the recompute a no-op when another transaction holds
	// the projection row, instead of waiting on the lock.
	SkipLocked bool `json:"skip_locked"`
}

// RecomputeResult reports which projection fields drifted from the ledger and
// were repaired.
type RecomputeResult struct {
	ToolID         string   `json:"tool_id"`
	Drifted        bool     `json:"drifted"`
	RepairedFields []string `json:"repaired_fields"`
	Skipped        bool     `json:"skipped"`
}

type Service interface {
	Register(ctx context.Context, req RegisterToolRequest) (*Tool, error)
	Get(ctx context.Context, toolID string) (*Tool, error)
	List(ctx context.Context, req ListToolsRequest) (ListToolsResponse, error)
	Update(ctx context.Context, req UpdateToolRequest) (*Tool, error)
	Retire(ctx context.Context, req RetireToolRequest) (*Tool, error)

	ApplyMaintenanceEvent(ctx context.Context, req ApplyEventRequest) (*ApplyEventResponse, error)
	ReverseMaintenanceEvent(ctx context.Context, req ReverseEventRequest) (*ReverseEventResponse, error)

	// Recompute rebuilds one tool's projection from its non-deleted ledger.
	// Operational escape hatch for drift; the write paths keep the projection
	// consistent on their own.
	Recompute(ctx context.Context, req RecomputeRequest) (RecomputeResult, error)
}

var (
	ErrToolNotFound     = errors.New("tool_not_found")
	ErrEventNotFound    = errors.New("maintenance_event_not_found")
	ErrToolExists       = errors.New("tool_already_exists")
	ErrToolRetired      = errors.New("tool_retired")
	ErrInvalidToolType  = errors.New("invalid_tool_type")
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidToolID    = errors.New("invalid_tool_id")
	ErrInvalidEventID   = errors.New("invalid_event_id")
	ErrInvalidMaterial  = errors.New("invalid_material_id")
	ErrInvalidBatch     = errors.New("invalid_batch_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidBaseline  = errors.New("invalid_baseline_tool_life")
	ErrInvalidLife      = errors.New("invalid_life_consumed")

	// ErrConflict is returned after the single automatic retry of a mutation
	// that keeps hitting concurrent-update conflicts.
	ErrConflict = errors.New("concurrent_update_conflict")

	// ErrConsistency marks a post-write invariant failure. Always fatal to the
	// transaction and logged distinctly from validation failures.
	ErrConsistency = errors.New("projection_consistency_violation")
)
