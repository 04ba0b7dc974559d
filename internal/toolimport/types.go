// Package toolimport replays historical tool lifecycles into the ledger,
// projection and rollups in one pass per tool.
package toolimport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LifecycleEventInitial is the synthetic pseudo-event marking tool creation.
// It sets the life baseline and produces no ledger entry.
const LifecycleEventInitial = "initial"

// LifecycleEvent is one supplied historical event. Life is the cumulative
// tool life at that point, not a delta.
type LifecycleEvent struct {
	Type       string    `json:"type"`
	Life       float64   `json:"life"`
	HLPCount   int64     `json:"hlp_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

type ToolImportSpec struct {
	MaterialID      string           `json:"material_id"`
	BatchID         string           `json:"batch_id"`
	Type            string           `json:"type"`
	Format          string           `json:"format"`
	FactoryID       string           `json:"factory_id"`
	LifecycleEvents []LifecycleEvent `json:"lifecycle_events"`
}

type ImportRequest struct {
	Tools   []ToolImportSpec `json:"tools"`
	ActorID string           `json:"actor_id"`
}

type ImportSuccess struct {
	ToolID     string `json:"tool_id"`
	MaterialID string `json:"material_id"`
	BatchID    string `json:"batch_id"`
	EventCount int    `json:"event_count"`
}

type ImportFailure struct {
	Index      int    `json:"index"`
	MaterialID string `json:"material_id"`
	BatchID    string `json:"batch_id"`
	Reason     string `json:"reason"`
}

// ImportResult reports per-item outcomes; a batch never fails wholesale.
type ImportResult struct {
	Successes []ImportSuccess `json:"successes"`
	Failures  []ImportFailure `json:"failures"`
}

// FieldError is one per-field validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates every field problem found on one import item.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}

var (
	ErrBatchTooLarge    = errors.New("import_batch_too_large")
	ErrImportInProgress = errors.New("import_in_progress")
)
