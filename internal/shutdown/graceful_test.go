package shutdown

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestShutdownRunsFuncsInOrder(t *testing.T) {
	gs := NewGracefulShutdown(5*time.Second, quietLogger())

	var sequence []string
	gs.RegisterShutdownFunc("third", func(ctx context.Context) error {
		sequence = append(sequence, "third")
		return nil
	}, 3)
	gs.RegisterShutdownFunc("first", func(ctx context.Context) error {
		sequence = append(sequence, "first")
		return nil
	}, 1)
	gs.RegisterShutdownFunc("second", func(ctx context.Context) error {
		sequence = append(sequence, "second")
		return nil
	}, 2)

	gs.Shutdown()
	gs.Wait()

	assert.Equal(t, []string{"first", "second", "third"}, sequence)
}

func TestShutdownIsIdempotent(t *testing.T) {
	gs := NewGracefulShutdown(5*time.Second, quietLogger())

	var calls int32
	gs.RegisterShutdownFunc("once", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, 1)

	gs.Shutdown()
	gs.Shutdown()
	require.NoError(t, gs.Close())
	gs.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestShutdownContinuesAfterError(t *testing.T) {
	gs := NewGracefulShutdown(5*time.Second, quietLogger())

	var secondRan bool
	gs.RegisterShutdownFunc("failing", func(ctx context.Context) error {
		return errors.New("连接已断开")
	}, 1)
	gs.RegisterShutdownFunc("after", func(ctx context.Context) error {
		secondRan = true
		return nil
	}, 2)

	gs.Shutdown()
	gs.Wait()

	assert.True(t, secondRan)
}

func TestContextCancelledAfterShutdown(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, quietLogger())

	assert.False(t, gs.IsShuttingDown())
	gs.Shutdown()
	gs.Wait()

	assert.True(t, gs.IsShuttingDown())
	select {
	case <-gs.Context().Done():
	default:
		t.Fatal("停机后Context应当已被取消")
	}
}

func TestWaitForShutdownAfterStart(t *testing.T) {
	gs := NewGracefulShutdown(time.Second, quietLogger())
	gs.Start()

	done := make(chan struct{})
	go func() {
		gs.WaitForShutdown()
		close(done)
	}()

	gs.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown在停机后未返回")
	}
}
