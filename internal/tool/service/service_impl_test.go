package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/diewerk/toolledger/internal/audit/domain"
	auditrepository "github.com/diewerk/toolledger/internal/audit/repository"
	auditservice "github.com/diewerk/toolledger/internal/audit/service"
	"github.com/diewerk/toolledger/internal/clock"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	toolrepository "github.com/diewerk/toolledger/internal/tool/repository"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc tooldomain.Service
	db  *gorm.DB
	clk *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
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

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

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
		Repo:     toolrepository.Provide(),
		AuditSvc: auditSvc,
	})

	return &fixture{svc: svc, db: conn, clk: clk}
}

func (f *fixture) registerTool(t *testing.T, baseline float64) *tooldomain.Tool {
	t.Helper()
	tool, err := f.svc.Register(context.Background(), tooldomain.RegisterToolRequest{
		MaterialID:       "MAT-" + f.clk.Now().Format("150405.000000000"),
		BatchID:          "B-01",
		Type:             "cutting",
		Format:           "106x76",
		BaselineToolLife: baseline,
		ActorID:          "operator-1",
	})
	require.NoError(t, err)
	return tool
}

func ptrFloat(v float64) *float64 { return &v }

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tool, err := f.svc.Register(ctx, tooldomain.RegisterToolRequest{
		MaterialID:       "MAT-1001",
		BatchID:          "B-7",
		Type:             "Creasing",
		BaselineToolLife: 250,
		ActorID:          "operator-1",
	})
	require.NoError(t, err)
	assert.Equal(t, tooldomain.ToolTypeCreasing, tool.Type)
	assert.Equal(t, tooldomain.StatusRunning, tool.Status)
	assert.Equal(t, float64(250), tool.CurrentToolLife)
	assert.Equal(t, float64(250), tool.BaselineToolLife)
	assert.Equal(t, 0, tool.NumberOfRegrinding)

	// Same business key again must be rejected.
	_, err = f.svc.Register(ctx, tooldomain.RegisterToolRequest{
		MaterialID:       "MAT-1001",
		BatchID:          "B-7",
		Type:             "creasing",
		BaselineToolLife: 100,
	})
	assert.ErrorIs(t, err, tooldomain.ErrToolExists)

	_, err = f.svc.Register(ctx, tooldomain.RegisterToolRequest{
		MaterialID: "MAT-1002",
		BatchID:    "B-8",
		Type:       "laminating",
	})
	assert.ErrorIs(t, err, tooldomain.ErrInvalidToolType)

	_, err = f.svc.Register(ctx, tooldomain.RegisterToolRequest{
		MaterialID: "  ",
		BatchID:    "B-8",
		Type:       "cutting",
	})
	assert.ErrorIs(t, err, tooldomain.ErrInvalidMaterial)
}

func TestApplyMaintenanceEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 200)

	resp, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(80),
		ActorID:      "operator-1",
	})
	require.NoError(t, err)

	assert.Equal(t, float64(280), resp.Tool.CurrentToolLife)
	assert.Equal(t, 1, resp.Tool.NumberOfRegrinding)
	assert.Equal(t, tooldomain.StatusSentForRegrinding, resp.Tool.Status)
	assert.Equal(t, 1, resp.Event.EventSequence)
	assert.Equal(t, float64(80), resp.Event.LifeConsumed)
	// Ledger snapshot is taken after the projection advanced.
	assert.Equal(t, float64(280), resp.Event.ToolLifeAtEvent)

	// Resegmentation sequences independently of regrinding.
	f.clk.Advance(time.Hour)
	resp, err = f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "resegmentation",
		LifeConsumed: ptrFloat(20),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Event.EventSequence)
	assert.Equal(t, 1, resp.Tool.NumberOfResegmentation)
	assert.Equal(t, tooldomain.StatusSentForResegmentation, resp.Tool.Status)
	assert.Equal(t, float64(300), resp.Tool.CurrentToolLife)

	f.clk.Advance(time.Hour)
	resp, err = f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(10),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Event.EventSequence)
	assert.Equal(t, 2, resp.Tool.NumberOfRegrinding)

	// Replaying the ledger must land exactly on the projection.
	var events []tooldomain.MaintenanceEvent
	require.NoError(t, f.db.Where("tool_id = ? AND is_deleted = ?", tool.ID, false).Find(&events).Error)
	total := tool.BaselineToolLife
	for _, event := range events {
		total += event.LifeConsumed
	}
	assert.Equal(t, resp.Tool.CurrentToolLife, total)
}

func TestApplyMaintenanceEventDerivedLife(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	// No prior ledger entry: the derived delta is zero.
	resp, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:    tool.ID.String(),
		EventType: "regrinding",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(0), resp.Event.LifeConsumed)
	assert.Equal(t, float64(100), resp.Tool.CurrentToolLife)

	// Simulate an out-of-band life adjustment, then derive from the gap to the
	// latest ledger snapshot.
	require.NoError(t, f.db.Model(&tooldomain.Tool{}).
		Where("id = ?", tool.ID).
		Update("current_tool_life", 140).Error)

	f.clk.Advance(time.Hour)
	resp, err = f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:    tool.ID.String(),
		EventType: "regrinding",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(40), resp.Event.LifeConsumed)
	assert.Equal(t, float64(180), resp.Tool.CurrentToolLife)
}

func TestApplyMaintenanceEventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	_, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:    tool.ID.String(),
		EventType: "sharpening",
	})
	assert.ErrorIs(t, err, tooldomain.ErrInvalidEventType)

	_, err = f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(-5),
	})
	assert.ErrorIs(t, err, tooldomain.ErrInvalidLife)

	_, err = f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:    "not-a-snowflake",
		EventType: "regrinding",
	})
	assert.ErrorIs(t, err, tooldomain.ErrInvalidToolID)

	_, err = f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:    snowflake.ID(987654321).String(),
		EventType: "regrinding",
	})
	assert.ErrorIs(t, err, tooldomain.ErrToolNotFound)
}

func TestReverseMaintenanceEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	applied, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(50),
	})
	require.NoError(t, err)
	require.Equal(t, float64(150), applied.Tool.CurrentToolLife)

	f.clk.Advance(time.Minute)
	reversed, err := f.svc.ReverseMaintenanceEvent(ctx, tooldomain.ReverseEventRequest{
		EventID: applied.Event.ID.String(),
		ActorID: "supervisor-1",
	})
	require.NoError(t, err)

	// Counter rolls back and the sentinel status reverts, but consumed life is
	// a physical fact and stays; the withdrawn consumption folds into the
	// baseline.
	assert.Equal(t, 0, reversed.Tool.NumberOfRegrinding)
	assert.True(t, reversed.StatusReverted)
	assert.Equal(t, tooldomain.StatusRunning, reversed.Tool.Status)
	assert.Equal(t, float64(150), reversed.Tool.CurrentToolLife)
	assert.Equal(t, float64(150), reversed.Tool.BaselineToolLife)

	// The ledger row is gone, not soft-deleted.
	var count int64
	require.NoError(t, f.db.Model(&tooldomain.MaintenanceEvent{}).
		Where("id = ?", applied.Event.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	_, err = f.svc.ReverseMaintenanceEvent(ctx, tooldomain.ReverseEventRequest{
		EventID: applied.Event.ID.String(),
	})
	assert.ErrorIs(t, err, tooldomain.ErrEventNotFound)
}

func TestReverseKeepsSentinelWhileEventsRemain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	first, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(10),
	})
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	second, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(10),
	})
	require.NoError(t, err)

	reversed, err := f.svc.ReverseMaintenanceEvent(ctx, tooldomain.ReverseEventRequest{
		EventID: second.Event.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reversed.Tool.NumberOfRegrinding)
	assert.False(t, reversed.StatusReverted)
	assert.Equal(t, tooldomain.StatusSentForRegrinding, reversed.Tool.Status)

	reversed, err = f.svc.ReverseMaintenanceEvent(ctx, tooldomain.ReverseEventRequest{
		EventID: first.Event.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, reversed.Tool.NumberOfRegrinding)
	assert.True(t, reversed.StatusReverted)
	assert.Equal(t, tooldomain.StatusRunning, reversed.Tool.Status)
}

func TestReverseThenRecomputeHoldsLife(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	applied, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(50),
	})
	require.NoError(t, err)
	require.Equal(t, float64(150), applied.Tool.CurrentToolLife)

	f.clk.Advance(time.Minute)
	_, err = f.svc.ReverseMaintenanceEvent(ctx, tooldomain.ReverseEventRequest{
		EventID: applied.Event.ID.String(),
		ActorID: "supervisor-1",
	})
	require.NoError(t, err)

	// A reversed tool replays clean: the remaining ledger plus the adjusted
	// baseline reproduces the projected life, so the sweep has nothing to
	// repair.
	result, err := f.svc.Recompute(ctx, tooldomain.RecomputeRequest{ToolID: tool.ID.String()})
	require.NoError(t, err)
	assert.False(t, result.Drifted)
	assert.Empty(t, result.RepairedFields)

	after, err := f.svc.Get(ctx, tool.ID.String())
	require.NoError(t, err)
	assert.Equal(t, float64(150), after.CurrentToolLife)
	assert.Equal(t, float64(150), after.BaselineToolLife)
}

func TestReverseRejectsRetiredTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	applied, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(25),
	})
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	_, err = f.svc.Retire(ctx, tooldomain.RetireToolRequest{
		ToolID:  tool.ID.String(),
		ActorID: "supervisor-1",
	})
	require.NoError(t, err)

	_, err = f.svc.ReverseMaintenanceEvent(ctx, tooldomain.ReverseEventRequest{
		EventID: applied.Event.ID.String(),
		ActorID: "supervisor-1",
	})
	assert.ErrorIs(t, err, tooldomain.ErrToolRetired)

	// The audit-retained ledger row survives and the frozen counters hold.
	var event tooldomain.MaintenanceEvent
	require.NoError(t, f.db.First(&event, "id = ?", applied.Event.ID).Error)
	assert.True(t, event.IsDeleted)

	frozen, err := f.svc.Get(ctx, tool.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, frozen.NumberOfRegrinding)
	assert.Equal(t, float64(125), frozen.CurrentToolLife)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	format := "140x100"
	updated, err := f.svc.Update(ctx, tooldomain.UpdateToolRequest{
		ToolID:  tool.ID.String(),
		Format:  &format,
		ActorID: "operator-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "140x100", updated.Format)

	bad := string(tooldomain.StatusDeleted)
	_, err = f.svc.Update(ctx, tooldomain.UpdateToolRequest{
		ToolID: tool.ID.String(),
		Status: &bad,
	})
	assert.ErrorIs(t, err, tooldomain.ErrInvalidStatus)
}

func TestRetire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	_, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(30),
	})
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	retired, err := f.svc.Retire(ctx, tooldomain.RetireToolRequest{
		ToolID:  tool.ID.String(),
		ActorID: "supervisor-1",
	})
	require.NoError(t, err)
	assert.Equal(t, tooldomain.StatusDeleted, retired.Status)
	require.NotNil(t, retired.RetiredAt)

	// Ledger rows survive retirement but are flagged, so replays skip them.
	var events []tooldomain.MaintenanceEvent
	require.NoError(t, f.db.Where("tool_id = ?", tool.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsDeleted)

	_, err = f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:    tool.ID.String(),
		EventType: "regrinding",
	})
	assert.ErrorIs(t, err, tooldomain.ErrToolRetired)

	// Retiring again is a no-op, not an error.
	again, err := f.svc.Retire(ctx, tooldomain.RetireToolRequest{ToolID: tool.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, tooldomain.StatusDeleted, again.Status)
}

func TestRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	for i := 0; i < 3; i++ {
		_, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
			ToolID:       tool.ID.String(),
			EventType:    "regrinding",
			LifeConsumed: ptrFloat(25),
		})
		require.NoError(t, err)
		f.clk.Advance(time.Hour)
	}

	result, err := f.svc.Recompute(ctx, tooldomain.RecomputeRequest{ToolID: tool.ID.String()})
	require.NoError(t, err)
	assert.False(t, result.Drifted)
	assert.Empty(t, result.RepairedFields)

	// Corrupt the projection and repair it from the ledger.
	require.NoError(t, f.db.Model(&tooldomain.Tool{}).
		Where("id = ?", tool.ID).
		Updates(map[string]any{
			"current_tool_life":    999,
			"number_of_regrinding": 7,
		}).Error)

	result, err = f.svc.Recompute(ctx, tooldomain.RecomputeRequest{ToolID: tool.ID.String()})
	require.NoError(t, err)
	assert.True(t, result.Drifted)
	assert.ElementsMatch(t, []string{"current_tool_life", "number_of_regrinding"}, result.RepairedFields)

	repaired, err := f.svc.Get(ctx, tool.ID.String())
	require.NoError(t, err)
	assert.Equal(t, float64(175), repaired.CurrentToolLife)
	assert.Equal(t, 3, repaired.NumberOfRegrinding)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Register(ctx, tooldomain.RegisterToolRequest{
			MaterialID:       "MAT-200" + string(rune('a'+i)),
			BatchID:          "B-1",
			Type:             "cutting",
			BaselineToolLife: 10,
		})
		require.NoError(t, err)
	}
	embosser, err := f.svc.Register(ctx, tooldomain.RegisterToolRequest{
		MaterialID: "MAT-300",
		BatchID:    "B-1",
		Type:       "embossing",
	})
	require.NoError(t, err)
	_, err = f.svc.Retire(ctx, tooldomain.RetireToolRequest{ToolID: embosser.ID.String()})
	require.NoError(t, err)

	resp, err := f.svc.List(ctx, tooldomain.ListToolsRequest{Type: "cutting"})
	require.NoError(t, err)
	assert.Len(t, resp.Tools, 3)

	// Retired tools are hidden unless asked for.
	resp, err = f.svc.List(ctx, tooldomain.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Tools, 3)

	resp, err = f.svc.List(ctx, tooldomain.ListToolsRequest{IncludeRetired: true})
	require.NoError(t, err)
	assert.Len(t, resp.Tools, 4)
}

func TestAuditTrailOnApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tool := f.registerTool(t, 100)

	applied, err := f.svc.ApplyMaintenanceEvent(ctx, tooldomain.ApplyEventRequest{
		ToolID:       tool.ID.String(),
		EventType:    "regrinding",
		LifeConsumed: ptrFloat(15),
		ActorID:      "operator-3",
	})
	require.NoError(t, err)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.
		Where("action = ?", "tool.maintenance_event_applied").
		Find(&logs).Error)
	require.Len(t, logs, 1)

	entry := logs[0]
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "operator-3", *entry.ActorID)
	assert.Equal(t, auditdomain.ActorTypeUser, entry.ActorType)
	// The audit row shares the ledger event's instant so history can correlate
	// the two.
	assert.True(t, entry.CreatedAt.Equal(applied.Event.OccurredAt))

	changes := entry.DecodeFieldChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, auditdomain.FieldStatus, changes[0].Field)
	assert.Equal(t, string(tooldomain.StatusRunning), changes[0].OldValue)
	assert.Equal(t, string(tooldomain.StatusSentForRegrinding), changes[0].NewValue)
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), snowflake.ID(42).String())
	assert.True(t, errors.Is(err, tooldomain.ErrToolNotFound))
}
