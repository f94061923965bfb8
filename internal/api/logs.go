package api

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 环形缓冲的内存日志，供日志查询接口使用
// 写满后覆盖最旧的条目
type LogManager struct {
	entries []LogEntry
	head    int
	size    int
	mu      sync.RWMutex
}

// NewLogManager 创建日志管理器
func NewLogManager(capacity int) *LogManager {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogManager{
		entries: make([]LogEntry, capacity),
	}
}

// AddLog 追加一条日志
// logrus会复用entry的字段map，这里必须拷贝后再留存
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			fields[k] = v
		}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.entries[lm.head] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.head = (lm.head + 1) % len(lm.entries)
	if lm.size < len(lm.entries) {
		lm.size++
	}
}

// snapshot 返回按时间倒序（最新在前）的条目副本，可按级别过滤
func (lm *LogManager) snapshot(level string) []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]LogEntry, 0, lm.size)
	for i := 1; i <= lm.size; i++ {
		idx := (lm.head - i + len(lm.entries)) % len(lm.entries)
		entry := lm.entries[idx]
		if level != "" && !strings.EqualFold(entry.Level, level) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// GetLogsWithPagination 获取分页日志，最新的排在最前
// 返回当前页条目和过滤后的总条数
func (lm *LogManager) GetLogsWithPagination(level string, page, pageSize int) ([]LogEntry, int) {
	logs := lm.snapshot(level)
	total := len(logs)

	start := (page - 1) * pageSize
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []LogEntry{}, total
	}

	end := start + pageSize
	if end > total {
		end = total
	}

	return logs[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.head = 0
	lm.size = 0
}

// LogHook 把logrus日志旁路进LogManager
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
