// Package history merges the audit trail and the maintenance ledger into one
// chronological change feed per tool.
package history

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/diewerk/toolledger/internal/audit/domain"
	"github.com/diewerk/toolledger/internal/cache"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Entry sources.
const (
	SourceAudit  = "audit"
	SourceLedger = "ledger"
)

// HistoryEntry is one row of the unified feed. Ledger-backed entries carry
// the event fields; audit-backed entries carry the field diff. A status-change
// audit entry that coincides with a ledger event references it through
// MaintenanceEventID so a reversal can be offered in context.
type HistoryEntry struct {
	OccurredAt time.Time `json:"occurred_at"`
	Source     string    `json:"source"`
	Action     string    `json:"action,omitempty"`

	Field      string `json:"field,omitempty"`
	OldValue   string `json:"old_value,omitempty"`
	NewValue   string `json:"new_value,omitempty"`
	OldDisplay string `json:"old_display,omitempty"`
	NewDisplay string `json:"new_display,omitempty"`

	ActorType string `json:"actor_type,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`

	MaintenanceEventID string  `json:"maintenance_event_id,omitempty"`
	EventType          string  `json:"event_type,omitempty"`
	LifeConsumed       float64 `json:"life_consumed,omitempty"`
	EventSequence      int     `json:"event_sequence,omitempty"`
	Reversed           bool    `json:"reversed,omitempty"`
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Repo         tooldomain.Repository
	AuditSvc     auditdomain.Service
	FactoryNames *cache.FactoryNameCache
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	repo         tooldomain.Repository
	auditSvc     auditdomain.Service
	factoryNames *cache.FactoryNameCache
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("history.service"),
		repo:         p.Repo,
		auditSvc:     p.AuditSvc,
		factoryNames: p.FactoryNames,
	}
}

// GetUnifiedHistory builds the merged feed for one tool. Retired tools stay
// readable; unknown tools are a NotFound.
func (s *Service) GetUnifiedHistory(ctx context.Context, toolID string) ([]HistoryEntry, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(toolID))
	if err != nil || id == 0 {
		return nil, tooldomain.ErrInvalidToolID
	}
	tool, err := s.repo.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	events, err := s.repo.ListAllEvents(ctx, s.db, tool.ID)
	if err != nil {
		return nil, err
	}
	audits, err := s.auditSvc.ListByTarget(ctx, auditdomain.ListByTargetRequest{
		TargetType: auditdomain.TargetTypeTool,
		TargetID:   tool.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	factoryNames, err := s.factoryNames.DisplayNames(ctx)
	if err != nil {
		// Presentation-only enrichment; the feed is still useful without it.
		s.log.Warn("failed to resolve factory display names", zap.Error(err))
		factoryNames = nil
	}

	entries := make([]HistoryEntry, 0, len(events)+len(audits))
	for _, event := range events {
		entries = append(entries, HistoryEntry{
			OccurredAt:         event.OccurredAt,
			Source:             SourceLedger,
			MaintenanceEventID: event.ID.String(),
			EventType:          string(event.EventType),
			LifeConsumed:       event.LifeConsumed,
			EventSequence:      event.EventSequence,
			Reversed:           event.IsDeleted,
		})
	}
	for _, audit := range audits {
		entries = append(entries, s.auditEntries(audit, events, factoryNames)...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	return entries, nil
}

// auditEntries expands one audit row into history entries, one per field
// change, or a single action entry when the row carries no diff.
func (s *Service) auditEntries(audit auditdomain.AuditLog, events []tooldomain.MaintenanceEvent, factoryNames map[snowflake.ID]string) []HistoryEntry {
	base := HistoryEntry{
		OccurredAt: audit.CreatedAt,
		Source:     SourceAudit,
		Action:     audit.Action,
		ActorType:  audit.ActorType,
	}
	if audit.ActorID != nil {
		base.ActorID = *audit.ActorID
	}

	changes := audit.DecodeFieldChanges()
	if len(changes) == 0 {
		return []HistoryEntry{base}
	}

	entries := make([]HistoryEntry, 0, len(changes))
	for _, change := range changes {
		entry := base
		entry.Field = change.Field
		entry.OldValue = change.OldValue
		entry.NewValue = change.NewValue

		switch change.Field {
		case auditdomain.FieldStatus:
			// Best effort: a status change written alongside a ledger event
			// shares its instant. No match simply omits the reference.
			if event := correlateEvent(events, audit.CreatedAt); event != nil {
				entry.MaintenanceEventID = event.ID.String()
				entry.EventType = string(event.EventType)
			}
		case auditdomain.FieldFactory:
			entry.OldDisplay = factoryDisplay(factoryNames, change.OldValue)
			entry.NewDisplay = factoryDisplay(factoryNames, change.NewValue)
		}
		entries = append(entries, entry)
	}
	return entries
}

func correlateEvent(events []tooldomain.MaintenanceEvent, at time.Time) *tooldomain.MaintenanceEvent {
	for i := range events {
		if events[i].OccurredAt.Equal(at) {
			return &events[i]
		}
	}
	return nil
}

func factoryDisplay(names map[snowflake.ID]string, raw string) string {
	if len(names) == 0 || strings.TrimSpace(raw) == "" {
		return ""
	}
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return names[id]
}

var Module = fx.Module("history.service",
	fx.Provide(cache.NewFactoryNameCache),
	fx.Provide(NewService),
)
