package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Entry is one mutation to record. ActorID is threaded explicitly from the
// caller; there is no connection-scoped actor state.
type Entry struct {
	ActorID      string
	Action       string
	TargetType   string
	TargetID     string
	FieldChanges []FieldChange
	Metadata     map[string]any
	// OccurredAt overrides the entry timestamp so a status change written
	// alongside a ledger event shares the event's instant. Zero means now.
	OccurredAt time.Time
}

type ListByTargetRequest struct {
	TargetType string
	TargetID   string
	Limit      int
}

type Service interface {
	// Record writes the entry inside the caller's transaction when tx is
	// non-nil, so the audit row commits or rolls back with the mutation.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	ListByTarget(ctx context.Context, req ListByTargetRequest) ([]AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, targetType, targetID string, limit int) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidTarget = errors.New("invalid_target")
)
