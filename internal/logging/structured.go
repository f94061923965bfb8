package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LogConfig 结构化日志配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别 (debug, info, warn, error)
	Format     string `json:"format" yaml:"format"`           // 日志格式 (json, text)
	Output     string `json:"output" yaml:"output"`           // 输出路径 (stdout, stderr, 文件路径)
	Rotation   bool   `json:"rotation" yaml:"rotation"`       // 是否启用日志轮转
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件最大大小(MB)
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 日志文件保留天数
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的日志文件数量
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩轮转的日志文件
}

// DefaultLogConfig 默认日志配置
var DefaultLogConfig = &LogConfig{
	Level:      "info",
	Format:     "json",
	Output:     "stdout",
	Rotation:   false,
	MaxSize:    100,
	MaxAge:     30,
	MaxBackups: 3,
	Compress:   true,
}

// StructuredLogger 基于slog的结构化日志器，用于事件落地等需要机器可读日志的场景
type StructuredLogger struct {
	slogger *slog.Logger
	config  *LogConfig
}

// NewStructuredLogger 创建结构化日志器
func NewStructuredLogger(config *LogConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultLogConfig
	}

	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	writer, err := openWriter(config.Output)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: normalizeAttr,
	}

	var handler slog.Handler
	switch config.Format {
	case "json", "":
		handler = slog.NewJSONHandler(writer, opts)
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}

	return &StructuredLogger{
		slogger: slog.New(handler),
		config:  config,
	}, nil
}

func parseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("未知的日志级别: %s", levelStr)
	}
}

func openWriter(output string) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return nil, err
		}
		return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	}
}

// normalizeAttr 时间统一为RFC3339，源码路径只保留文件名
func normalizeAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
	case slog.SourceKey:
		if source, ok := a.Value.Any().(*slog.Source); ok {
			source.File = filepath.Base(source.File)
		}
	}
	return a
}

// Debug 调试日志
func (sl *StructuredLogger) Debug(msg string, args ...any) {
	sl.slogger.Debug(msg, args...)
}

// Info 信息日志
func (sl *StructuredLogger) Info(msg string, args ...any) {
	sl.slogger.Info(msg, args...)
}

// Warn 警告日志
func (sl *StructuredLogger) Warn(msg string, args ...any) {
	sl.slogger.Warn(msg, args...)
}

// Error 错误日志
func (sl *StructuredLogger) Error(msg string, args ...any) {
	sl.slogger.Error(msg, args...)
}

// InfoWithFields 带字段的信息日志
func (sl *StructuredLogger) InfoWithFields(msg string, fields map[string]any) {
	sl.logWithFields(slog.LevelInfo, msg, fields)
}

// WarnWithFields 带字段的警告日志
func (sl *StructuredLogger) WarnWithFields(msg string, fields map[string]any) {
	sl.logWithFields(slog.LevelWarn, msg, fields)
}

// ErrorWithFields 带字段的错误日志
func (sl *StructuredLogger) ErrorWithFields(msg string, fields map[string]any) {
	sl.logWithFields(slog.LevelError, msg, fields)
}

func (sl *StructuredLogger) logWithFields(level slog.Level, msg string, fields map[string]any) {
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	sl.slogger.LogAttrs(context.Background(), level, msg, attrs...)
}

// WithFields 返回预置了固定字段的日志器
func (sl *StructuredLogger) WithFields(fields map[string]any) *FieldLogger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &FieldLogger{logger: sl.slogger.With(args...)}
}

// FieldLogger 预置固定字段的日志器
type FieldLogger struct {
	logger *slog.Logger
}

// Debug 调试日志
func (fl *FieldLogger) Debug(msg string, args ...any) {
	fl.logger.Debug(msg, args...)
}

// Info 信息日志
func (fl *FieldLogger) Info(msg string, args ...any) {
	fl.logger.Info(msg, args...)
}

// Warn 警告日志
func (fl *FieldLogger) Warn(msg string, args ...any) {
	fl.logger.Warn(msg, args...)
}

// Error 错误日志
func (fl *FieldLogger) Error(msg string, args ...any) {
	fl.logger.Error(msg, args...)
}

// NewContractLogger 合约维度的日志器，每条日志带上合约ID与地址
func NewContractLogger(base *StructuredLogger, contractID string, address string) *FieldLogger {
	return base.WithFields(map[string]any{
		"component":   "contract_tracker",
		"contract_id": contractID,
		"address":     address,
	})
}
