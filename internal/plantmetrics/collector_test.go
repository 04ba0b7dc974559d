package plantmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	"github.com/diewerk/toolledger/internal/rollup"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollectorRefresh(t *testing.T) {
	conn, err := pkgdb.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&tooldomain.Tool{},
		&tooldomain.MaintenanceEvent{},
		&rollup.DailyRollup{},
	))

	clk := clock.NewFakeClock(time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC))
	rollups, err := rollup.NewService(rollup.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clk,
		Config: config.Config{PlantTimezone: "UTC"},
	})
	require.NoError(t, err)

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	for i, status := range []tooldomain.ToolStatus{
		tooldomain.StatusRunning,
		tooldomain.StatusRunning,
		tooldomain.StatusDeleted,
	} {
		require.NoError(t, conn.Create(&tooldomain.Tool{
			ID:         node.Generate(),
			MaterialID: "MAT-1",
			BatchID:    string(rune('A' + i)),
			Type:       tooldomain.ToolTypeCutting,
			Status:     status,
		}).Error)
	}
	require.NoError(t, conn.Create(&tooldomain.MaintenanceEvent{
		ID:            node.Generate(),
		ToolID:        node.Generate(),
		EventType:     tooldomain.EventTypeRegrinding,
		EventSequence: 1,
		OccurredAt:    clk.Now(),
	}).Error)
	require.NoError(t, rollups.Merge(context.Background(), rollup.MergeRequest{
		ToolID:           snowflake.ID(7),
		MachineID:        3,
		UsageDate:        "2026-08-03",
		RevolutionsDelta: 42,
	}))

	collector := NewCollector(conn, clk, rollups, "plant-1")
	collector.Refresh(context.Background())

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.toolsByStatus.WithLabelValues(string(tooldomain.StatusRunning))))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.toolsByStatus.WithLabelValues(string(tooldomain.StatusDeleted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.ledgerEvents))
	assert.Equal(t, float64(42), testutil.ToFloat64(collector.revolutionsToday))

	families, err := collector.Registry().Gather()
	require.NoError(t, err)
	series := buildRemoteWriteSeries(families, time.Now().UnixMilli())
	assert.NotEmpty(t, series)
	for _, s := range series {
		var name, site string
		for _, label := range s.Labels {
			switch label.Name {
			case "__name__":
				name = label.Value
			case "site_id":
				site = label.Value
			}
		}
		assert.NotEmpty(t, name)
		assert.Equal(t, "plant-1", site)
	}
}
