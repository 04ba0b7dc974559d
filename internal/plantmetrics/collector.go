package plantmetrics

import (
	"context"
	"runtime"

	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/rollup"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Collector owns the registry pushed upstream and refreshes its gauges from
// the database before each push.
type Collector struct {
	registry *prometheus.Registry
	db       *gorm.DB
	clock    clock.Clock
	rollups  *rollup.Service

	toolsByStatus    *prometheus.GaugeVec
	ledgerEvents     prometheus.Gauge
	revolutionsToday prometheus.Gauge
	memoryBytes      prometheus.Gauge
}

func NewCollector(db *gorm.DB, clk clock.Clock, rollups *rollup.Service, siteID string) *Collector {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"site_id": siteID}

	c := &Collector{
		registry: registry,
		db:       db,
		clock:    clk,
		rollups:  rollups,
		toolsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "toolledger_tools",
			Help:        "Registered tools by lifecycle status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		ledgerEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "toolledger_maintenance_events",
			Help:        "Live maintenance ledger entries.",
			ConstLabels: constLabels,
		}),
		revolutionsToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "toolledger_revolutions_today",
			Help:        "Tool-station revolutions accumulated in today's rollup bucket.",
			ConstLabels: constLabels,
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "toolledger_memory_bytes",
			Help:        "Process memory obtained from the OS.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(c.toolsByStatus, c.ledgerEvents, c.revolutionsToday, c.memoryBytes)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Refresh recomputes every gauge. Query failures leave the previous value in
// place; a stale gauge beats a missing series.
func (c *Collector) Refresh(ctx context.Context) {
	if c == nil {
		return
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := c.db.WithContext(ctx).Model(&tooldomain.Tool{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error
	if err == nil {
		c.toolsByStatus.Reset()
		for _, row := range counts {
			c.toolsByStatus.WithLabelValues(row.Status).Set(float64(row.Count))
		}
	}

	var events int64
	err = c.db.WithContext(ctx).Model(&tooldomain.MaintenanceEvent{}).
		Where("is_deleted = ?", false).
		Count(&events).Error
	if err == nil {
		c.ledgerEvents.Set(float64(events))
	}

	var revolutions float64
	err = c.db.WithContext(ctx).Model(&rollup.DailyRollup{}).
		Where("usage_date = ?", c.rollups.Bucket(c.clock.Now())).
		Select("coalesce(sum(total_ts_revolutions), 0)").
		Scan(&revolutions).Error
	if err == nil {
		c.revolutionsToday.Set(revolutions)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	c.memoryBytes.Set(float64(m.Sys))
}
