package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/machinestate/domain"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("machinestate.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.StatusRecord, error) {
	toolID, err := snowflake.ParseString(strings.TrimSpace(req.ToolID))
	if err != nil || toolID == 0 {
		return nil, domain.ErrInvalidToolID
	}
	if req.MachineID <= 0 {
		return nil, domain.ErrInvalidMachineID
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status != domain.StatusInDrive && status != domain.StatusRemoved {
		return nil, domain.ErrInvalidStatus
	}
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.clock.Now()
	}

	record := domain.StatusRecord{
		ID:         s.genID.Generate(),
		ToolID:     toolID,
		MachineID:  req.MachineID,
		Status:     status,
		RecordedAt: recordedAt,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ActiveOnMachine resolves the machine's full stream per tool and keeps the
// tools whose latest record is in_drive. Resolution always runs over the
// unfiltered stream; the status predicate is applied afterwards so a tool
// whose latest record is "removed" never resurfaces through an older
// "in_drive" record.
func (s *Service) ActiveOnMachine(ctx context.Context, machineID int64) ([]domain.ActiveTool, error) {
	if machineID <= 0 {
		return nil, domain.ErrInvalidMachineID
	}

	records, err := s.loadStream(ctx, s.db.WithContext(ctx).Where("machine_id = ?", machineID))
	if err != nil {
		return nil, err
	}
	return activeFrom(domain.ResolveLatest(records, domain.ByTool)), nil
}

func (s *Service) ActiveAnywhere(ctx context.Context, toolType string) ([]domain.ActiveTool, error) {
	records, err := s.loadStream(ctx, s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	active := activeFrom(domain.ResolveLatest(records, domain.ByTool))
	if toolType = strings.TrimSpace(toolType); toolType == "" {
		return active, nil
	}

	parsed, ok := tooldomain.ParseToolType(toolType)
	if !ok {
		return nil, tooldomain.ErrInvalidToolType
	}
	toolIDs := make([]snowflake.ID, 0, len(active))
	for _, a := range active {
		toolIDs = append(toolIDs, a.ToolID)
	}
	if len(toolIDs) == 0 {
		return nil, nil
	}

	var matching []snowflake.ID
	if err := s.db.WithContext(ctx).Model(&tooldomain.Tool{}).
		Where("id IN ?", toolIDs).
		Where("type = ?", parsed).
		Pluck("id", &matching).Error; err != nil {
		return nil, err
	}
	keep := make(map[snowflake.ID]struct{}, len(matching))
	for _, id := range matching {
		keep[id] = struct{}{}
	}

	filtered := active[:0]
	for _, a := range active {
		if _, ok := keep[a.ToolID]; ok {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// loadStream returns the stream in insertion order so equal timestamps
// resolve last-write-wins.
func (s *Service) loadStream(ctx context.Context, stmt *gorm.DB) ([]domain.StatusRecord, error) {
	var records []domain.StatusRecord
	if err := stmt.Model(&domain.StatusRecord{}).
		Order("id asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func activeFrom(resolved map[int64]domain.StatusRecord) []domain.ActiveTool {
	active := make([]domain.ActiveTool, 0, len(resolved))
	for _, record := range resolved {
		if record.Status != domain.StatusInDrive {
			continue
		}
		active = append(active, domain.ActiveTool{
			ToolID:     record.ToolID,
			MachineID:  record.MachineID,
			Status:     record.Status,
			RecordedAt: record.RecordedAt,
		})
	}
	return active
}
