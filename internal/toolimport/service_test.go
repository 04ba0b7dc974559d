package toolimport

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/diewerk/toolledger/internal/audit/domain"
	auditrepository "github.com/diewerk/toolledger/internal/audit/repository"
	auditservice "github.com/diewerk/toolledger/internal/audit/service"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/config"
	"github.com/diewerk/toolledger/internal/rollup"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	toolrepository "github.com/diewerk/toolledger/internal/tool/repository"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	conn, err := pkgdb.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&tooldomain.Tool{},
		&tooldomain.MaintenanceEvent{},
		&rollup.DailyRollup{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC))

	rollupSvc, err := rollup.NewService(rollup.Params{
		DB:     conn,
		Log:    log,
		Clock:  clk,
		Config: config.Config{PlantTimezone: "UTC"},
	})
	if err != nil {
		t.Fatalf("rollup service: %v", err)
	}
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Config:   config.Config{ImportMaxBatch: 100},
		Repo:     toolrepository.Provide(),
		Rollup:   rollupSvc,
		AuditSvc: auditSvc,
	})
	return svc, conn
}

func lifecycle(eventType string, life float64, day int) LifecycleEvent {
	return LifecycleEvent{
		Type:       eventType,
		Life:       life,
		OccurredAt: time.Date(2023, 11, day, 10, 0, 0, 0, time.UTC),
	}
}

func TestImportReplayShape(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	result, err := svc.ImportTools(ctx, ImportRequest{
		ActorID: "importer-1",
		Tools: []ToolImportSpec{{
			MaterialID: "MAT-9001",
			BatchID:    "B-1",
			Type:       "cutting",
			LifecycleEvents: []LifecycleEvent{
				lifecycle("initial", 0, 1),
				lifecycle("regrinding", 100, 2),
				lifecycle("resegmentation", 150, 3),
			},
		}},
	})
	require.NoError(t, err)
	require.Len(t, result.Successes, 1)
	require.Empty(t, result.Failures)
	assert.Equal(t, 2, result.Successes[0].EventCount)

	var tool tooldomain.Tool
	require.NoError(t, conn.First(&tool, "material_id = ?", "MAT-9001").Error)
	assert.Equal(t, float64(150), tool.CurrentToolLife)
	assert.Equal(t, 1, tool.NumberOfRegrinding)
	assert.Equal(t, 1, tool.NumberOfResegmentation)
	assert.Equal(t, tooldomain.StatusRunning, tool.Status)

	var events []tooldomain.MaintenanceEvent
	require.NoError(t, conn.Where("tool_id = ?", tool.ID).Order("occurred_at asc").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, float64(100), events[0].LifeConsumed)
	assert.Equal(t, float64(100), events[0].ToolLifeAtEvent)
	assert.Equal(t, 1, events[0].EventSequence)
	assert.Equal(t, float64(50), events[1].LifeConsumed)
	assert.Equal(t, float64(150), events[1].ToolLifeAtEvent)
	assert.Equal(t, 1, events[1].EventSequence)

	// The projection invariant holds exactly as for live-tracked tools.
	total := tool.BaselineToolLife
	for _, event := range events {
		total += event.LifeConsumed
	}
	assert.Equal(t, tool.CurrentToolLife, total)

	// Historical usage lands on the placeholder machine.
	var rollups []rollup.DailyRollup
	require.NoError(t, conn.Where("tool_id = ?", tool.ID).Order("usage_date asc").Find(&rollups).Error)
	require.Len(t, rollups, 2)
	for _, row := range rollups {
		assert.Equal(t, rollup.HistoricalMachineID, row.MachineID)
	}
	assert.Equal(t, int64(100), rollups[0].TotalTSRevolutions)
	assert.Equal(t, int64(50), rollups[1].TotalTSRevolutions)
}

func TestImportBaselineFromInitialEvent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	result, err := svc.ImportTools(ctx, ImportRequest{
		Tools: []ToolImportSpec{{
			MaterialID: "MAT-9002",
			BatchID:    "B-1",
			Type:       "embossing",
			LifecycleEvents: []LifecycleEvent{
				lifecycle("initial", 40, 1),
				lifecycle("regrinding", 90, 2),
			},
		}},
	})
	require.NoError(t, err)
	require.Len(t, result.Successes, 1)

	var tool tooldomain.Tool
	require.NoError(t, conn.First(&tool, "material_id = ?", "MAT-9002").Error)
	assert.Equal(t, float64(40), tool.BaselineToolLife)
	assert.Equal(t, float64(90), tool.CurrentToolLife)

	var event tooldomain.MaintenanceEvent
	require.NoError(t, conn.First(&event, "tool_id = ?", tool.ID).Error)
	assert.Equal(t, float64(50), event.LifeConsumed)
}

func TestImportWithoutEvents(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	result, err := svc.ImportTools(ctx, ImportRequest{
		Tools: []ToolImportSpec{{
			MaterialID: "MAT-9003",
			BatchID:    "B-1",
			Type:       "creasing",
		}},
	})
	require.NoError(t, err)
	require.Len(t, result.Successes, 1)
	assert.Equal(t, 0, result.Successes[0].EventCount)

	var tool tooldomain.Tool
	require.NoError(t, conn.First(&tool, "material_id = ?", "MAT-9003").Error)
	assert.Equal(t, float64(0), tool.CurrentToolLife)
	assert.Equal(t, float64(0), tool.BaselineToolLife)
}

func TestImportPartialBatch(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	specs := []ToolImportSpec{
		{MaterialID: "MAT-1", BatchID: "B-1", Type: "cutting"},
		{MaterialID: "", BatchID: "B-2", Type: "cutting"},          // missing material
		{MaterialID: "MAT-3", BatchID: "B-3", Type: "cutting"},
		{MaterialID: "MAT-4", BatchID: "B-4", Type: "laminating"},  // bad type
		{MaterialID: "MAT-5", BatchID: "B-5", Type: "embossing"},
	}

	result, err := svc.ImportTools(ctx, ImportRequest{Tools: specs})
	require.NoError(t, err)
	assert.Len(t, result.Successes, 3)
	assert.Len(t, result.Failures, 2)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.Equal(t, 3, result.Failures[1].Index)

	// The valid tools are fully persisted regardless of the failures.
	var count int64
	require.NoError(t, conn.Model(&tooldomain.Tool{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestImportRejectsDuplicateBusinessKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	spec := ToolImportSpec{MaterialID: "MAT-42", BatchID: "B-1", Type: "cutting"}
	result, err := svc.ImportTools(ctx, ImportRequest{Tools: []ToolImportSpec{spec}})
	require.NoError(t, err)
	require.Len(t, result.Successes, 1)

	result, err = svc.ImportTools(ctx, ImportRequest{Tools: []ToolImportSpec{spec}})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, tooldomain.ErrToolExists.Error(), result.Failures[0].Reason)
}

func TestImportBatchCap(t *testing.T) {
	svc, _ := newTestService(t)
	svc.maxBatch = 2

	_, err := svc.ImportTools(context.Background(), ImportRequest{
		Tools: make([]ToolImportSpec, 3),
	})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestBuildReplayPlanOrdersByTimestamp(t *testing.T) {
	// Out-of-order input is replayed chronologically.
	plan := buildReplayPlan(orderedEvents([]LifecycleEvent{
		lifecycle("resegmentation", 150, 3),
		lifecycle("initial", 0, 1),
		lifecycle("regrinding", 100, 2),
	}))

	require.Len(t, plan.steps, 2)
	assert.Equal(t, tooldomain.EventTypeRegrinding, plan.steps[0].eventType)
	assert.Equal(t, float64(100), plan.steps[0].lifeConsumed)
	assert.Equal(t, tooldomain.EventTypeResegmentation, plan.steps[1].eventType)
	assert.Equal(t, float64(50), plan.steps[1].lifeConsumed)
	assert.Equal(t, float64(150), plan.finalLife)
	assert.Equal(t, float64(0), plan.baselineLife)
}
