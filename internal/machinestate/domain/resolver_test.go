package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(toolID snowflake.ID, machineID int64, status string, minute int) StatusRecord {
	return StatusRecord{
		ToolID:     toolID,
		MachineID:  machineID,
		Status:     status,
		RecordedAt: time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC),
	}
}

func TestResolveLatestPicksMaxTimestamp(t *testing.T) {
	// Out-of-order arrival: the t=5 removal wins regardless of position.
	stream := []StatusRecord{
		record(1, 9, StatusInDrive, 1),
		record(1, 9, StatusRemoved, 5),
		record(1, 9, StatusInDrive, 3),
	}

	resolved := ResolveLatest(stream, ByTool)
	require.Len(t, resolved, 1)
	latest := resolved[1]
	assert.Equal(t, StatusRemoved, latest.Status)
	assert.Equal(t, 5, latest.RecordedAt.Minute())
}

func TestResolveLatestTieBreaksByInsertionOrder(t *testing.T) {
	stream := []StatusRecord{
		record(1, 9, StatusInDrive, 5),
		record(1, 9, StatusRemoved, 5),
	}

	resolved := ResolveLatest(stream, ByTool)
	assert.Equal(t, StatusRemoved, resolved[1].Status)

	// Swap the arrival order: the later write still wins.
	stream[0], stream[1] = stream[1], stream[0]
	resolved = ResolveLatest(stream, ByTool)
	assert.Equal(t, StatusInDrive, resolved[1].Status)
}

func TestResolveLatestGroupsIndependently(t *testing.T) {
	stream := []StatusRecord{
		record(1, 9, StatusInDrive, 1),
		record(2, 9, StatusInDrive, 2),
		record(1, 9, StatusRemoved, 3),
	}

	resolved := ResolveLatest(stream, ByTool)
	require.Len(t, resolved, 2)
	assert.Equal(t, StatusRemoved, resolved[1].Status)
	assert.Equal(t, StatusInDrive, resolved[2].Status)
}

func TestResolveLatestByMachine(t *testing.T) {
	stream := []StatusRecord{
		record(1, 9, StatusInDrive, 1),
		record(2, 9, StatusInDrive, 4),
		record(3, 12, StatusInDrive, 2),
	}

	resolved := ResolveLatest(stream, ByMachine)
	require.Len(t, resolved, 2)
	assert.Equal(t, snowflake.ID(2), resolved[9].ToolID)
	assert.Equal(t, snowflake.ID(3), resolved[12].ToolID)
}

func TestResolveLatestEmptyStream(t *testing.T) {
	resolved := ResolveLatest(nil, ByTool)
	assert.Empty(t, resolved)
}
