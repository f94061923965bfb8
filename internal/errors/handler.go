package errors

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorStrategy 按错误类型定制的处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *ContractError) error
}

// ErrorCallback 错误上报回调，异步执行
type ErrorCallback func(err *ContractError)

// ThresholdConfig 按严重级别的告警阈值
type ThresholdConfig struct {
	MaxErrorsPerHour int           `json:"max_errors_per_hour"`
	CooldownPeriod   time.Duration `json:"cooldown_period"`
}

// ErrorHandler 统一错误处理入口
// 每个错误先计入统计，再触发回调，最后按类型分发到对应策略
type ErrorHandler struct {
	logger     *logrus.Logger
	stats      *ErrorStats
	mu         sync.RWMutex
	strategies map[ErrorType]ErrorStrategy
	callbacks  []ErrorCallback
	thresholds map[ErrorSeverity]ThresholdConfig
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		thresholds: defaultThresholds(),
	}

	// 瞬时故障类错误按退避等待处理，其余只记日志
	backoff := &BackoffStrategy{maxRetries: 3, baseDelay: time.Second}
	for _, t := range []ErrorType{ErrorTypeNetwork, ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeLLM, ErrorTypeCompiler, ErrorTypeVerifier} {
		eh.strategies[t] = backoff
	}
	eh.strategies[ErrorTypeRateLimit] = &BackoffStrategy{maxRetries: 5, baseDelay: 5 * time.Second}

	logging := &LoggingStrategy{logger: logger}
	for errorType := range errorTypeNames {
		if _, exists := eh.strategies[errorType]; !exists {
			eh.strategies[errorType] = logging
		}
	}

	return eh
}

func defaultThresholds() map[ErrorSeverity]ThresholdConfig {
	return map[ErrorSeverity]ThresholdConfig{
		SeverityLow:      {MaxErrorsPerHour: 100, CooldownPeriod: 5 * time.Minute},
		SeverityMedium:   {MaxErrorsPerHour: 50, CooldownPeriod: 10 * time.Minute},
		SeverityHigh:     {MaxErrorsPerHour: 20, CooldownPeriod: 30 * time.Minute},
		SeverityCritical: {MaxErrorsPerHour: 5, CooldownPeriod: time.Hour},
	}
}

// HandleError 处理一个错误：统计、回调、按类型分发
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var contractErr *ContractError
	if !AsContractError(err, &contractErr) {
		contractErr = WrapError(err, ErrorTypeSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(contractErr)
	eh.mu.Unlock()

	if eh.overThreshold(contractErr) {
		eh.logger.Warnf("错误频率超过阈值: %s", contractErr.Error())
	}

	eh.dispatchCallbacks(contractErr)

	eh.mu.RLock()
	strategy, exists := eh.strategies[contractErr.Type]
	eh.mu.RUnlock()
	if !exists {
		strategy = &LoggingStrategy{logger: eh.logger}
	}
	return strategy.Handle(ctx, contractErr)
}

// Record 只做统计与回调，不执行策略
// 用于校验失败这类已经有明确返回路径的错误
func (eh *ErrorHandler) Record(err *ContractError) {
	if err == nil {
		return
	}
	eh.mu.Lock()
	eh.stats.RecordError(err)
	eh.mu.Unlock()
	eh.dispatchCallbacks(err)
}

func (eh *ErrorHandler) overThreshold(err *ContractError) bool {
	threshold, exists := eh.thresholds[err.Severity]
	if !exists {
		return false
	}
	return eh.stats.GetErrorRate(time.Hour) > float64(threshold.MaxErrorsPerHour)
}

func (eh *ErrorHandler) dispatchCallbacks(err *ContractError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		go func(cb ErrorCallback) {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}(callback)
	}
}

// AddCallback 注册错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 覆盖某个错误类型的处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// GetStats 获取错误统计
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats
}

// ClearStats 清空错误统计
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

// BackoffStrategy 可重试错误的退避等待策略
type BackoffStrategy struct {
	maxRetries int
	baseDelay  time.Duration
}

// Handle 对可重试错误按线性退避等待，调用方收到错误后自行决定是否重发
func (bs *BackoffStrategy) Handle(ctx context.Context, err *ContractError) error {
	if !err.Retryable {
		return err
	}

	for attempt := 1; attempt <= bs.maxRetries; attempt++ {
		select {
		case <-time.After(time.Duration(attempt) * bs.baseDelay):
			if attempt == bs.maxRetries {
				return WrapError(err, err.Type, err.Severity, "RETRY_EXHAUSTED", "重试次数已用尽")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// LoggingStrategy 按严重级别写日志的兜底策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

func (ls *LoggingStrategy) Handle(ctx context.Context, err *ContractError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type":  err.Type.String(),
		"error_code":  err.Code,
		"component":   err.Component,
		"retryable":   err.Retryable,
		"contract_id": err.ContractID,
		"tx_hash":     err.TxHash,
		"context":     err.Context,
	})

	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	case SeverityHigh, SeverityCritical:
		logEntry.Error(err.Message)
	}

	return err
}
