package progress

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, dbPath string) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	manager, err := NewManager(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestMarkScanned(t *testing.T) {
	manager := newTestManager(t, filepath.Join(t.TempDir(), "progress.db"))

	assert.Equal(t, uint64(0), manager.LastScannedBlock())

	require.NoError(t, manager.MarkScanned(100, 10))
	assert.Equal(t, uint64(100), manager.LastScannedBlock())

	require.NoError(t, manager.MarkScanned(150, 50))
	info := manager.GetProgress()
	assert.Equal(t, uint64(150), info.LastScannedBlock)
	assert.Equal(t, uint64(60), info.TotalBlocks)
	assert.False(t, info.StartTime.IsZero())
}

func TestProgressSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "progress.db")

	manager := newTestManager(t, dbPath)
	require.NoError(t, manager.MarkScanned(4242, 42))
	require.NoError(t, manager.CountEvent("Deposited"))
	require.NoError(t, manager.CountEvent("Deposited"))
	require.NoError(t, manager.CountEvent("Released"))
	require.NoError(t, manager.Close())

	reopened := newTestManager(t, dbPath)
	assert.Equal(t, uint64(4242), reopened.LastScannedBlock())

	info := reopened.GetProgress()
	assert.Equal(t, uint64(3), info.TotalEvents)
	assert.Equal(t, uint64(2), info.EventCounts["Deposited"])
	assert.Equal(t, uint64(1), info.EventCounts["Released"])
}

func TestSetStartBlock(t *testing.T) {
	manager := newTestManager(t, filepath.Join(t.TempDir(), "progress.db"))

	require.NoError(t, manager.SetStartBlock(1000))
	assert.Equal(t, uint64(1000), manager.LastScannedBlock())

	// 已有进度时不覆盖
	require.NoError(t, manager.SetStartBlock(2000))
	assert.Equal(t, uint64(1000), manager.LastScannedBlock())
}

func TestReset(t *testing.T) {
	manager := newTestManager(t, filepath.Join(t.TempDir(), "progress.db"))

	require.NoError(t, manager.MarkScanned(500, 5))
	require.NoError(t, manager.CountEvent("Refunded"))
	require.NoError(t, manager.Reset())

	assert.Equal(t, uint64(0), manager.LastScannedBlock())
	info := manager.GetProgress()
	assert.Equal(t, uint64(0), info.TotalEvents)
	assert.Empty(t, info.EventCounts)
}

func TestGetStats(t *testing.T) {
	manager := newTestManager(t, filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, manager.MarkScanned(7, 7))

	stats := manager.GetStats()
	assert.Equal(t, uint64(7), stats["last_scanned_block"])
	assert.Contains(t, stats, "scan_rate")
	assert.Contains(t, stats, "running_duration")
}
