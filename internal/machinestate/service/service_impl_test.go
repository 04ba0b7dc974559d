package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/clock"
	"github.com/diewerk/toolledger/internal/machinestate/domain"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	conn, err := pkgdb.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.StatusRecord{}, &tooldomain.Tool{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	return svc, conn, clk
}

func seedTool(t *testing.T, conn *gorm.DB, id snowflake.ID, toolType tooldomain.ToolType) {
	t.Helper()
	tool := tooldomain.Tool{
		ID:         id,
		MaterialID: "MAT-" + id.String(),
		BatchID:    "B-1",
		Type:       toolType,
		Status:     tooldomain.StatusRunning,
	}
	require.NoError(t, conn.Create(&tool).Error)
}

func TestIngestValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, domain.IngestRequest{ToolID: "junk", MachineID: 1, Status: "in_drive"})
	assert.ErrorIs(t, err, domain.ErrInvalidToolID)

	_, err = svc.Ingest(ctx, domain.IngestRequest{ToolID: "12345", MachineID: 0, Status: "in_drive"})
	assert.ErrorIs(t, err, domain.ErrInvalidMachineID)

	_, err = svc.Ingest(ctx, domain.IngestRequest{ToolID: "12345", MachineID: 1, Status: "parked"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestActiveOnMachine(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	ingest := func(toolID string, machineID int64, status string) {
		t.Helper()
		_, err := svc.Ingest(ctx, domain.IngestRequest{
			ToolID:    toolID,
			MachineID: machineID,
			Status:    status,
		})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	ingest("101", 7, domain.StatusInDrive)
	ingest("102", 7, domain.StatusInDrive)
	ingest("101", 7, domain.StatusRemoved)
	ingest("103", 8, domain.StatusInDrive)

	active, err := svc.ActiveOnMachine(ctx, 7)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, snowflake.ID(102), active[0].ToolID)
	assert.Equal(t, int64(7), active[0].MachineID)

	// Unknown machine resolves to empty, not an error.
	active, err = svc.ActiveOnMachine(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.ActiveOnMachine(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidMachineID)
}

func TestActiveAnywhereFiltersByType(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := context.Background()

	seedTool(t, conn, 201, tooldomain.ToolTypeCutting)
	seedTool(t, conn, 202, tooldomain.ToolTypeCreasing)

	for _, id := range []string{"201", "202"} {
		_, err := svc.Ingest(ctx, domain.IngestRequest{
			ToolID:    id,
			MachineID: 4,
			Status:    domain.StatusInDrive,
		})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	active, err := svc.ActiveAnywhere(ctx, "")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	active, err = svc.ActiveAnywhere(ctx, "creasing")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, snowflake.ID(202), active[0].ToolID)

	_, err = svc.ActiveAnywhere(ctx, "grinding")
	assert.ErrorIs(t, err, tooldomain.ErrInvalidToolType)
}
