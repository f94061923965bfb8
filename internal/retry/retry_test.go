package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flaggedError struct {
	retryable bool
}

func (e *flaggedError) Error() string     { return "下游调用失败" }
func (e *flaggedError) IsRetryable() bool { return e.retryable }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2.0,
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil错误", nil, false},
		{"自述可重试", &flaggedError{retryable: true}, true},
		{"自述不可重试", &flaggedError{retryable: false}, false},
		{"包装后的自述错误", fmt.Errorf("调用节点: %w", &flaggedError{retryable: true}), true},
		{"连接被拒绝", errors.New("dial tcp: connection refused"), true},
		{"节点限流", errors.New("HTTP 429 Too Many Requests"), true},
		{"模型服务过载", errors.New("API returned: overloaded"), true},
		{"普通业务错误", errors.New("模板索引越界"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	retrier := NewRetrier(fastConfig(5), testLogger())

	calls := 0
	err := retrier.Execute(context.Background(), "测试操作", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	retrier := NewRetrier(fastConfig(5), testLogger())

	calls := 0
	err := retrier.Execute(context.Background(), "测试操作", func() error {
		calls++
		return &flaggedError{retryable: false}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	retrier := NewRetrier(fastConfig(3), testLogger())

	calls := 0
	err := retrier.Execute(context.Background(), "测试操作", func() error {
		calls++
		return errors.New("i/o timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "重试 3 次后失败")
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	retrier := NewRetrier(&RetryConfig{
		MaxAttempts:     10,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		BackoffFactor:   2.0,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := retrier.Execute(ctx, "测试操作", func() error {
		calls++
		return errors.New("connection refused")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNextDelayBackoffAndCap(t *testing.T) {
	retrier := NewRetrier(&RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		BackoffFactor:   2.0,
	}, testLogger())

	assert.Equal(t, 100*time.Millisecond, retrier.nextDelay(1))
	assert.Equal(t, 400*time.Millisecond, retrier.nextDelay(3))
	// 超出上限后封顶
	assert.Equal(t, time.Second, retrier.nextDelay(10))
}

func TestJitterStaysWithinBounds(t *testing.T) {
	retrier := NewRetrier(&RetryConfig{
		MaxAttempts:         5,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         time.Second,
		BackoffFactor:       2.0,
		RandomizationFactor: 0.2,
		EnableJitter:        true,
	}, testLogger())

	for i := 0; i < 50; i++ {
		delay := retrier.nextDelay(2)
		assert.GreaterOrEqual(t, delay, 160*time.Millisecond)
		assert.LessOrEqual(t, delay, 240*time.Millisecond)
	}
}
