package scheduler

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
	"github.com/diewerk/toolledger/internal/reconcile"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	toolrepository "github.com/diewerk/toolledger/internal/tool/repository"
	toolservice "github.com/diewerk/toolledger/internal/tool/service"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	sched *Scheduler
	tools tooldomain.Service
	conn  *gorm.DB
	clk   *clock.FakeClock
}

func newFixture(t *testing.T, tuning config.TuningConfig) *fixture {
	t.Helper()

	conn, err := pkgdb.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&tooldomain.Tool{},
		&tooldomain.MaintenanceEvent{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(8)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 8, 2, 6, 0, 0, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})
	toolSvc := toolservice.NewService(toolservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     toolrepository.Provide(),
		AuditSvc: auditSvc,
	})
	reconcileSvc := reconcile.NewService(reconcile.Params{
		DB:      conn,
		Log:     log,
		ToolSvc: toolSvc,
	})

	sched, err := New(Params{
		Log:          log,
		GenID:        node,
		Clock:        clk,
		Tuning:       config.NewStaticTuningHolder(tuning),
		ReconcileSvc: reconcileSvc,
	})
	require.NoError(t, err)

	return &fixture{sched: sched, tools: toolSvc, conn: conn, clk: clk}
}

func registerWithEvents(t *testing.T, f *fixture, batch string, events int) *tooldomain.Tool {
	t.Helper()
	ctx := context.Background()

	tool, err := f.tools.Register(ctx, tooldomain.RegisterToolRequest{
		MaterialID:       "MAT-S1",
		BatchID:          batch,
		Type:             "cutting",
		BaselineToolLife: 50,
		ActorID:          "operator-1",
	})
	require.NoError(t, err)

	for i := 0; i < events; i++ {
		f.clk.Advance(time.Minute)
		lifeConsumed := 10.0
		_, err := f.tools.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
			ToolID:       tool.ID.String(),
			EventType:    "regrinding",
			LifeConsumed: &lifeConsumed,
			ActorID:      "operator-1",
		})
		require.NoError(t, err)
	}
	return tool
}

func TestRunOnceRepairsDrift(t *testing.T) {
	tuning := config.DefaultTuningConfig()
	tuning.Reconcile.BatchSize = 2 // force multiple keyset pages
	f := newFixture(t, tuning)
	ctx := context.Background()

	tools := make([]*tooldomain.Tool, 0, 3)
	for _, batch := range []string{"B-1", "B-2", "B-3"} {
		tools = append(tools, registerWithEvents(t, f, batch, 2))
	}

	// Corrupt one projection out from under the ledger.
	err := f.conn.Model(&tooldomain.Tool{}).
		Where("id = ?", tools[1].ID).
		Updates(map[string]any{
			"current_tool_life":    999.0,
			"number_of_regrinding": 7,
		}).Error
	require.NoError(t, err)

	require.NoError(t, f.sched.RunOnce(ctx))

	repaired, err := f.tools.Get(ctx, tools[1].ID.String())
	require.NoError(t, err)
	assert.Equal(t, float64(70), repaired.CurrentToolLife)
	assert.Equal(t, 2, repaired.NumberOfRegrinding)

	// Untouched tools come through the sweep unchanged.
	other, err := f.tools.Get(ctx, tools[0].ID.String())
	require.NoError(t, err)
	assert.Equal(t, float64(70), other.CurrentToolLife)
	assert.Equal(t, 2, other.NumberOfRegrinding)
}

func TestRunOnceSkipsWhenDisabled(t *testing.T) {
	tuning := config.DefaultTuningConfig()
	tuning.Reconcile.Enabled = false
	f := newFixture(t, tuning)
	ctx := context.Background()

	tool := registerWithEvents(t, f, "B-1", 1)
	err := f.conn.Model(&tooldomain.Tool{}).
		Where("id = ?", tool.ID).
		Update("current_tool_life", 999.0).Error
	require.NoError(t, err)

	require.NoError(t, f.sched.RunOnce(ctx))

	unchanged, err := f.tools.Get(ctx, tool.ID.String())
	require.NoError(t, err)
	assert.Equal(t, float64(999), unchanged.CurrentToolLife)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
