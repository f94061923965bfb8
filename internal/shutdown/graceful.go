package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown 优雅停机协调器
// 收到信号或被手动触发后，按order从小到大执行已注册的停机函数
type GracefulShutdown struct {
	logger     *logrus.Logger
	timeout    time.Duration
	funcs      []shutdownFunc
	mu         sync.Mutex
	signalChan chan os.Signal
	ctx        context.Context
	cancel     context.CancelFunc
	startOnce  sync.Once
	runOnce    sync.Once
	done       chan struct{}
}

type shutdownFunc struct {
	name  string
	fn    func(ctx context.Context) error
	order int
}

// NewGracefulShutdown 创建优雅停机协调器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// RegisterShutdownFunc 注册停机处理函数，order数字越小越早执行
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.funcs = append(gs.funcs, shutdownFunc{name: name, fn: fn, order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 启动信号监听，重复调用只生效一次
func (gs *GracefulShutdown) Start() {
	gs.startOnce.Do(func() {
		signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		go func() {
			select {
			case sig := <-gs.signalChan:
				gs.logger.Infof("收到停机信号: %v", sig)
				gs.run()
			case <-gs.done:
			}
		}()
		gs.logger.Info("优雅停机协调器已启动，监听信号: SIGINT, SIGTERM, SIGQUIT")
	})
}

// Context 停机时会被取消的上下文
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Shutdown 手动触发停机
func (gs *GracefulShutdown) Shutdown() {
	gs.run()
}

// Wait 阻塞直到停机流程结束
func (gs *GracefulShutdown) Wait() {
	<-gs.done
}

// WaitForShutdown 启动监听并阻塞等待停机完成
func (gs *GracefulShutdown) WaitForShutdown() {
	gs.Start()
	gs.Wait()
}

// IsShuttingDown 停机流程是否已经开始
func (gs *GracefulShutdown) IsShuttingDown() bool {
	select {
	case <-gs.ctx.Done():
		return true
	default:
		return false
	}
}

// Close 停止信号监听并确保停机流程已执行
func (gs *GracefulShutdown) Close() error {
	signal.Stop(gs.signalChan)
	gs.run()
	return nil
}

// run 执行一次停机流程，重复触发只执行第一次
func (gs *GracefulShutdown) run() {
	gs.runOnce.Do(func() {
		defer close(gs.done)

		gs.logger.Info("开始优雅停机流程...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gs.timeout)
		defer shutdownCancel()

		gs.mu.Lock()
		funcs := make([]shutdownFunc, len(gs.funcs))
		copy(funcs, gs.funcs)
		gs.mu.Unlock()

		sort.SliceStable(funcs, func(i, j int) bool {
			return funcs[i].order < funcs[j].order
		})

		failed := 0
		for _, f := range funcs {
			if shutdownCtx.Err() != nil {
				gs.logger.Warnf("停机超时，跳过剩余处理函数（从 %s 起）", f.name)
				break
			}

			start := time.Now()
			if err := f.fn(shutdownCtx); err != nil {
				failed++
				gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", f.name, time.Since(start), err)
				continue
			}
			gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", f.name, time.Since(start))
		}

		// 通知所有持有Context的goroutine退出
		gs.cancel()

		if failed > 0 {
			gs.logger.Errorf("停机过程中发生 %d 个错误", failed)
		}
		gs.logger.Info("优雅停机流程完成")
	})
}
