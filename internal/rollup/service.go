package rollup

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	obsmetrics "github.com/diewerk/toolledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidToolID = errors.New("invalid_tool_id")
	ErrInvalidDate   = errors.New("invalid_usage_date")
	ErrInvalidRange  = errors.New("invalid_date_range")
)

type MergeRequest struct {
	ToolID           snowflake.ID
	MachineID        int64
	UsageDate        string
	RevolutionsDelta int64
	HLPDelta         int64
	// Source labels the merge origin for metrics (ingest, import).
	Source string
}

type RangeRequest struct {
	ToolID   snowflake.ID
	FromDate string
	ToDate   string
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	loc     *time.Location
	metrics *obsmetrics.Metrics
}

func NewService(p Params) (*Service, error) {
	loc, err := time.LoadLocation(p.Config.PlantTimezone)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("rollup.service"),
		clock:   p.Clock,
		loc:     loc,
		metrics: p.Metrics,
	}, nil
}

// Location is the plant zone samples are bucketed in.
func (s *Service) Location() *time.Location { return s.loc }

// Bucket formats a sample instant as this plant's rollup date key.
func (s *Service) Bucket(t time.Time) string { return BucketDate(t, s.loc) }

// Merge accumulates deltas into the (tool, machine, date) row in its own
// transaction.
func (s *Service) Merge(ctx context.Context, req MergeRequest) error {
	return s.MergeTx(ctx, s.db, req)
}

// MergeTx accumulates deltas inside the caller's transaction. The upsert adds
// in one statement, so no row lock or read-modify-write is needed and repeated
// calls with the same deltas keep adding.
func (s *Service) MergeTx(ctx context.Context, tx *gorm.DB, req MergeRequest) error {
	if req.ToolID == 0 {
		return ErrInvalidToolID
	}
	if strings.TrimSpace(req.UsageDate) == "" {
		return ErrInvalidDate
	}

	now := s.clock.Now()
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO tool_usage_rollups (tool_id, machine_id, usage_date, total_ts_revolutions, total_hlp_run, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tool_id, machine_id, usage_date)
		 DO UPDATE SET total_ts_revolutions = tool_usage_rollups.total_ts_revolutions + EXCLUDED.total_ts_revolutions,
		               total_hlp_run = tool_usage_rollups.total_hlp_run + EXCLUDED.total_hlp_run,
		               updated_at = EXCLUDED.updated_at`,
		req.ToolID,
		req.MachineID,
		req.UsageDate,
		req.RevolutionsDelta,
		req.HLPDelta,
		now,
		now,
	).Error
	if err != nil {
		return err
	}

	if s.metrics != nil {
		source := req.Source
		if source == "" {
			source = "ingest"
		}
		s.metrics.RecordRollupMerge(ctx, source)
	}
	return nil
}

// Range returns a tool's rollup rows across an inclusive date span, ordered by
// date then machine. Date keys are opaque strings; the comparison relies on
// their lexicographic = chronological ordering.
func (s *Service) Range(ctx context.Context, req RangeRequest) ([]DailyRollup, error) {
	if req.ToolID == 0 {
		return nil, ErrInvalidToolID
	}
	from := strings.TrimSpace(req.FromDate)
	to := strings.TrimSpace(req.ToDate)
	if from != "" && to != "" && from > to {
		return nil, ErrInvalidRange
	}

	stmt := s.db.WithContext(ctx).Model(&DailyRollup{}).
		Where("tool_id = ?", req.ToolID)
	if from != "" {
		stmt = stmt.Where("usage_date >= ?", from)
	}
	if to != "" {
		stmt = stmt.Where("usage_date <= ?", to)
	}

	var rows []DailyRollup
	if err := stmt.Order("usage_date asc, machine_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

var Module = fx.Module("rollup.service",
	fx.Provide(NewService),
)
