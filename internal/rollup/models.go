// Package rollup accumulates per-day tool usage keyed by tool, machine and
// local plant date.
package rollup

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// HistoricalMachineID is the reserved machine identity that usage replayed
// from bulk imports is attributed to. Real machines are numbered from 1.
const HistoricalMachineID int64 = 0

// DailyRollup is one (tool, machine, date) accumulator row. Merges are
// additive and never deduplicated; callers own idempotency.
type DailyRollup struct {
	ToolID             snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	MachineID          int64        `gorm:"primaryKey;autoIncrement:false"`
	UsageDate          string       `gorm:"primaryKey;type:text"`
	TotalTSRevolutions int64        `gorm:"column:total_ts_revolutions;not null;default:0"`
	TotalHLPRun        int64        `gorm:"column:total_hlp_run;not null;default:0"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DailyRollup) TableName() string { return "tool_usage_rollups" }

// BucketDate formats a sample instant as a date in the plant's zone. The
// returned string is an opaque bucket key from here on; it is never shifted
// to another timezone.
func BucketDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
