package output

import (
	"bufio"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"satcontracts/internal/chat"
	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 文件输出器可以直接作为聊天流水线的贡献落盘目标
var _ chat.ContributionSink = (*FileOutput)(nil)
var _ chat.ContributionSink = (*AsyncFileOutput)(nil)

func readLines(t *testing.T, dir, prefix string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		file, err := os.Open(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		defer file.Close()

		var lines []string
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		require.NoError(t, scanner.Err())
		return lines
	}

	t.Fatalf("目录 %s 下没有 %s 开头的文件", dir, prefix)
	return nil
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()

	out, err := NewOutput(dir, "json", false)
	require.NoError(t, err)

	event := &models.ContractEvent{
		ContractID:      "c-1",
		ContractAddress: "0x1111111111111111111111111111111111111111",
		EventName:       models.EventDeposited,
		Amount:          big.NewInt(1000),
		BlockNumber:     42,
		TxHash:          "0x" + strings.Repeat("ab", 32),
		Timestamp:       time.Now(),
	}
	require.NoError(t, out.WriteContractEvent(event))
	require.NoError(t, out.WriteContractEvent(nil))

	contribution := &models.Contribution{
		Contributor: "alice",
		Kind:        "template",
		Summary:     "新增保证金托管模板",
		ParseOK:     true,
		ReceivedAt:  time.Now(),
	}
	require.NoError(t, out.WriteContribution(contribution))
	require.NoError(t, out.Close())

	eventLines := readLines(t, dir, "contract_events_")
	require.Len(t, eventLines, 1)

	var gotEvent models.ContractEvent
	require.NoError(t, json.Unmarshal([]byte(eventLines[0]), &gotEvent))
	assert.Equal(t, "c-1", gotEvent.ContractID)
	assert.Equal(t, models.EventDeposited, gotEvent.EventName)
	assert.Equal(t, uint64(42), gotEvent.BlockNumber)

	contributionLines := readLines(t, dir, "contributions_")
	require.Len(t, contributionLines, 1)

	var gotContribution models.Contribution
	require.NoError(t, json.Unmarshal([]byte(contributionLines[0]), &gotContribution))
	assert.Equal(t, "alice", gotContribution.Contributor)
	assert.True(t, gotContribution.ParseOK)
}

func TestAsyncFileOutput(t *testing.T) {
	dir := t.TempDir()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	out, err := NewAsyncFileOutput(dir, "json", false, logger)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, out.WriteContractEvent(&models.ContractEvent{
			ContractID:  "c-1",
			EventName:   models.EventPartySigned,
			BlockNumber: uint64(i),
			Timestamp:   time.Now(),
		}))
	}
	require.NoError(t, out.WriteContribution(&models.Contribution{
		Summary:    "好的建议",
		ReceivedAt: time.Now(),
	}))

	// Close等待缓冲写完
	require.NoError(t, out.Close())

	assert.Len(t, readLines(t, dir, "contract_events_"), 5)
	assert.Len(t, readLines(t, dir, "contributions_"), 1)
}

func TestNewOutputUnknownDirFailure(t *testing.T) {
	// 输出目录是已存在的普通文件时应该报错
	dir := t.TempDir()
	blocker := filepath.Join(dir, "occupied")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := NewOutput(blocker, "json", false)
	assert.Error(t, err)
}
