package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts         int           `json:"max_attempts"`         // 最大尝试次数
	InitialInterval     time.Duration `json:"initial_interval"`     // 初始重试间隔
	MaxInterval         time.Duration `json:"max_interval"`         // 最大重试间隔
	BackoffFactor       float64       `json:"backoff_factor"`       // 退避因子
	RandomizationFactor float64       `json:"randomization_factor"` // 随机化因子
	EnableJitter        bool          `json:"enable_jitter"`        // 启用抖动
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = &RetryConfig{
	MaxAttempts:         5,
	InitialInterval:     100 * time.Millisecond,
	MaxInterval:         30 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.1,
	EnableJitter:        true,
}

// NetworkRetryConfig 节点RPC与HTTP请求的重试配置
var NetworkRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     500 * time.Millisecond,
	MaxInterval:         10 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.2,
	EnableJitter:        true,
}

// LLMRetryConfig 模型调用重试配置
// 模型服务限流窗口较长，初始间隔相应放大
var LLMRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     2 * time.Second,
	MaxInterval:         20 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.2,
	EnableJitter:        true,
}

type retryable interface {
	IsRetryable() bool
}

// retryableHints 错误文本中可重试的特征子串
// 覆盖网络层、以太坊节点与模型服务三类下游
var retryableHints = []string{
	// 网络层
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"broken pipe",
	// 以太坊节点
	"node not ready",
	"nonce too low",
	"replacement transaction underpriced",
	"already known",
	"future transaction",
	// 模型服务
	"status code: 429",
	"status code: 500",
	"status code: 502",
	"status code: 503",
	"overloaded",
	"server is busy",
	"context deadline exceeded",
}

// IsRetryableError 判断错误是否值得重试
// 实现了IsRetryable()的错误以其自述为准，否则按错误文本匹配已知的瞬时故障
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, hint := range retryableHints {
		if strings.Contains(errStr, hint) {
			return true
		}
	}
	return false
}

// Retrier 带指数退避的重试器
type Retrier struct {
	config *RetryConfig
	logger *logrus.Logger
	rand   *rand.Rand
}

// NewRetrier 创建重试器
func NewRetrier(config *RetryConfig, logger *logrus.Logger) *Retrier {
	if config == nil {
		config = DefaultRetryConfig
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Retrier{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ExecuteFunc 被重试的操作
type ExecuteFunc func() error

// Execute 执行操作，失败且可重试时按退避策略重试
func (r *Retrier) Execute(ctx context.Context, operation string, fn ExecuteFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return err
		}

		if attempt == r.config.MaxAttempts {
			r.logger.Errorf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
			return fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
		}

		delay := r.nextDelay(attempt)
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// nextDelay 指数退避加抖动，避免对同一下游的惊群
func (r *Retrier) nextDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxInterval) {
		delay = float64(r.config.MaxInterval)
	}

	if r.config.EnableJitter {
		jitter := delay * r.config.RandomizationFactor
		delay = delay - jitter + r.rand.Float64()*jitter*2
		if delay < 0 {
			delay = float64(r.config.InitialInterval)
		}
	}

	return time.Duration(delay)
}

// RetryNetworkOperation 按网络请求策略重试
func RetryNetworkOperation(ctx context.Context, operation string, fn ExecuteFunc, logger *logrus.Logger) error {
	return NewRetrier(NetworkRetryConfig, logger).Execute(ctx, operation, fn)
}

// RetryLLMOperation 按模型调用策略重试
func RetryLLMOperation(ctx context.Context, operation string, fn ExecuteFunc, logger *logrus.Logger) error {
	return NewRetrier(LLMRetryConfig, logger).Execute(ctx, operation, fn)
}
