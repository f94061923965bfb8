package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeConnection
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 模型相关错误
	ErrorTypeLLM
	ErrorTypeIntentRouting
	ErrorTypeTemplateSelection

	// 区块链相关错误
	ErrorTypeBlockchain
	ErrorTypeInvalidAddress
	ErrorTypeInvalidSignature
	ErrorTypeTxFailed

	// 数据相关错误
	ErrorTypeData
	ErrorTypeSerialization
	ErrorTypeValidation
	ErrorTypeNotFound

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeFileIO
	ErrorTypeConfig
	ErrorTypeStore

	// 外部服务错误
	ErrorTypeExternalAPI
	ErrorTypeCompiler
	ErrorTypeVerifier
	ErrorTypeKafka
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// ContractError 自定义错误类型
type ContractError struct {
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    interface{}            `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"cause,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Component  string                 `json:"component"`
	ContractID *string                `json:"contract_id,omitempty"`
	TxHash     *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *ContractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *ContractError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *ContractError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *ContractError) WithContext(key string, value interface{}) *ContractError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithContractID 添加合约记录ID
func (e *ContractError) WithContractID(contractID string) *ContractError {
	e.ContractID = &contractID
	return e
}

// WithTxHash 添加交易哈希
func (e *ContractError) WithTxHash(txHash string) *ContractError {
	e.TxHash = &txHash
	return e
}

// NewContractError 创建新的错误
func NewContractError(errorType ErrorType, severity ErrorSeverity, code, message string) *ContractError {
	return &ContractError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType, code),
	}
}

// AsContractError 判断错误链中是否包含ContractError
func AsContractError(err error, target **ContractError) bool {
	return stderrors.As(err, target)
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *ContractError {
	return &ContractError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType, code),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType, code string) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeRateLimit:
		return true
	case ErrorTypeExternalAPI:
		return true
	case ErrorTypeVerifier:
		// 提交被拒绝说明内容有问题，重试没有意义
		return code != "VERIFY_SUBMIT_REJECTED"
	case ErrorTypeCompiler:
		// 源码本身的编译错误重试没有意义
		return code != "COMPILE_FAILED" && code != "COMPILE_EMPTY_OUTPUT"
	case ErrorTypeKafka:
		return true
	case ErrorTypeLLM:
		// 模型调用默认可重试，除非回复本身不合规
		return code != "MALFORMED_REPLY"
	case ErrorTypeBlockchain:
		// 大多数链上错误可重试，除非是数据验证错误
		return code != "INVALID_DATA"
	default:
		return false
	}
}

// 预定义错误
var (
	// 网络错误
	ErrNetworkTimeout = NewContractError(
		ErrorTypeTimeout,
		SeverityMedium,
		"NETWORK_TIMEOUT",
		"网络请求超时",
	)

	ErrConnectionFailed = NewContractError(
		ErrorTypeConnection,
		SeverityHigh,
		"CONNECTION_FAILED",
		"连接失败",
	)

	ErrRateLimitExceeded = NewContractError(
		ErrorTypeRateLimit,
		SeverityMedium,
		"RATE_LIMIT_EXCEEDED",
		"请求频率超限",
	)

	// 模型错误
	ErrLLMCallFailed = NewContractError(
		ErrorTypeLLM,
		SeverityMedium,
		"LLM_CALL_FAILED",
		"模型调用失败",
	)

	ErrUnknownIntent = NewContractError(
		ErrorTypeIntentRouting,
		SeverityLow,
		"UNKNOWN_INTENT",
		"无法识别用户意图",
	)

	ErrTemplateSelection = NewContractError(
		ErrorTypeTemplateSelection,
		SeverityLow,
		"TEMPLATE_SELECTION_FAILED",
		"模板选择失败",
	)

	ErrTemplateIndexOutOfRange = NewContractError(
		ErrorTypeTemplateSelection,
		SeverityMedium,
		"TEMPLATE_INDEX_OUT_OF_RANGE",
		"模板下标超出目录范围",
	)

	// 区块链错误
	ErrInvalidAddress = NewContractError(
		ErrorTypeInvalidAddress,
		SeverityHigh,
		"INVALID_ADDRESS",
		"地址格式无效",
	)

	ErrInvalidSignature = NewContractError(
		ErrorTypeInvalidSignature,
		SeverityHigh,
		"INVALID_SIGNATURE",
		"签名校验失败",
	)

	ErrNotParty = NewContractError(
		ErrorTypeInvalidSignature,
		SeverityMedium,
		"NOT_A_PARTY",
		"签名地址不是合约参与方",
	)

	ErrReceiptNotFound = NewContractError(
		ErrorTypeBlockchain,
		SeverityMedium,
		"RECEIPT_NOT_FOUND",
		"交易回执未找到",
	)

	// 数据错误
	ErrSerializationFailed = NewContractError(
		ErrorTypeSerialization,
		SeverityMedium,
		"SERIALIZATION_FAILED",
		"数据序列化失败",
	)

	ErrDataValidation = NewContractError(
		ErrorTypeValidation,
		SeverityMedium,
		"DATA_VALIDATION_FAILED",
		"数据验证失败",
	)

	ErrContractNotFound = NewContractError(
		ErrorTypeNotFound,
		SeverityLow,
		"CONTRACT_NOT_FOUND",
		"合约记录不存在",
	)

	// 系统错误
	ErrFileIOFailed = NewContractError(
		ErrorTypeFileIO,
		SeverityHigh,
		"FILE_IO_FAILED",
		"文件操作失败",
	)

	ErrConfigInvalid = NewContractError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrStoreFailed = NewContractError(
		ErrorTypeStore,
		SeverityHigh,
		"STORE_OPERATION_FAILED",
		"存储操作失败",
	)

	// 外部服务错误
	ErrCompilerFailed = NewContractError(
		ErrorTypeCompiler,
		SeverityMedium,
		"COMPILER_API_FAILED",
		"编译服务调用失败",
	)

	ErrVerifierFailed = NewContractError(
		ErrorTypeVerifier,
		SeverityLow,
		"VERIFIER_API_FAILED",
		"验证服务调用失败",
	)

	ErrKafkaProduceFailed = NewContractError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PRODUCE_FAILED",
		"Kafka消息发送失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:           "Network",
	ErrorTypeConnection:        "Connection",
	ErrorTypeTimeout:           "Timeout",
	ErrorTypeRateLimit:         "RateLimit",
	ErrorTypeLLM:               "LLM",
	ErrorTypeIntentRouting:     "IntentRouting",
	ErrorTypeTemplateSelection: "TemplateSelection",
	ErrorTypeBlockchain:        "Blockchain",
	ErrorTypeInvalidAddress:    "InvalidAddress",
	ErrorTypeInvalidSignature:  "InvalidSignature",
	ErrorTypeTxFailed:          "TxFailed",
	ErrorTypeData:              "Data",
	ErrorTypeSerialization:     "Serialization",
	ErrorTypeValidation:        "Validation",
	ErrorTypeNotFound:          "NotFound",
	ErrorTypeSystem:            "System",
	ErrorTypeFileIO:            "FileIO",
	ErrorTypeConfig:            "Config",
	ErrorTypeStore:             "Store",
	ErrorTypeExternalAPI:       "ExternalAPI",
	ErrorTypeCompiler:          "Compiler",
	ErrorTypeVerifier:          "Verifier",
	ErrorTypeKafka:             "Kafka",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*ContractError      `json:"recent_errors"`
	LastError         *ContractError        `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*ContractError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *ContractError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0

	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}

	return float64(recentCount) / hours
}
