package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/config"
	"satcontracts/internal/output"
	"satcontracts/internal/store"
	"satcontracts/internal/tracker"
)

var (
	// 基础参数
	startBlock uint64
	endBlock   uint64
	workers    int
	batchSize  int
	outputPath string
	format     string

	// 流处理参数
	stream bool

	// 高级参数
	configFile string
	verbose    bool
	compress   bool

	// 进度管理参数
	resetProgress bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tracker",
		Short: "托管合约事件跟踪工具",
		Long:  `扫描已部署托管合约的链上事件（存款、签署、放款、退款），推进合约记录状态并输出事件流`,
		RunE:  run,
	}

	// 基础参数
	rootCmd.Flags().Uint64Var(&startBlock, "start-block", 0, "起始区块号")
	rootCmd.Flags().Uint64Var(&endBlock, "end-block", 0, "结束区块号")
	rootCmd.Flags().IntVar(&workers, "workers", tracker.DefaultWorkerCount, "工作协程数")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", tracker.DefaultBatchSize, "批次大小")

	// 流处理参数
	rootCmd.Flags().BoolVar(&stream, "stream", false, "启用实时流式跟踪")

	// 进度管理参数
	rootCmd.Flags().BoolVar(&resetProgress, "reset-progress", false, "重置进度重新开始")

	// 子命令同样依赖这些参数，注册为持久参数
	rootCmd.PersistentFlags().StringVar(&outputPath, "output", "./outputs", "输出路径")
	rootCmd.PersistentFlags().StringVar(&format, "format", "json", "输出格式 (json/json_async/kafka/kafka_async)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().BoolVar(&compress, "compress", false, "启用压缩")

	// 进度查询子命令
	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "查看扫描进度",
		RunE:  showProgress,
	}

	rootCmd.AddCommand(progressCmd)

	return rootCmd
}

func newTracker(logger *logrus.Logger, cfg *config.Config) (*tracker.Tracker, error) {
	// 创建输出器
	var outputter output.Output
	var err error
	if format == "kafka" || format == "kafka_async" {
		var kafkaCfg *config.KafkaConfig
		if cfg.Output != nil {
			kafkaCfg = cfg.Output.Kafka
		}
		outputter, err = output.NewOutputWithConfig(outputPath, format, compress, kafkaCfg)
	} else {
		outputter, err = output.NewOutput(outputPath, format, compress)
	}
	if err != nil {
		return nil, fmt.Errorf("创建输出器失败: %w", err)
	}

	// 合约存储，跟踪目标从这里读取
	var contractStore store.ContractStore
	if cfg.Store != nil && cfg.Store.PostgresDSN != "" {
		contractStore, err = store.NewPostgresStore(cfg.Store.PostgresDSN, logger)
		if err != nil {
			outputter.Close()
			return nil, fmt.Errorf("连接Postgres失败: %w", err)
		}
	} else {
		logger.Warn("未配置Postgres，使用内存存储（没有可跟踪的合约）")
		contractStore = store.NewMemoryStore()
	}

	cat, err := catalogue.New(logger)
	if err != nil {
		outputter.Close()
		contractStore.Close()
		return nil, fmt.Errorf("加载模板目录失败: %w", err)
	}

	// 创建跟踪器（使用结构化日志）
	trk, err := tracker.NewTrackerWithLogging(cfg.Blockchain, cfg.Tracker, contractStore, cat, outputter, logger, cfg.Logging)
	if err != nil {
		outputter.Close()
		contractStore.Close()
		return nil, fmt.Errorf("创建跟踪器失败: %w", err)
	}

	return trk, nil
}

func run(cmd *cobra.Command, args []string) error {
	// 设置日志级别
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	trk, err := newTracker(logger, cfg)
	if err != nil {
		return err
	}
	defer trk.Close()

	// 处理进度重置
	if resetProgress {
		logger.Info("重置扫描进度...")
		if err := trk.ResetProgress(); err != nil {
			logger.Warnf("重置进度失败: %v", err)
		} else {
			logger.Info("进度已重置")
		}
	}

	// 启动优雅停机监听
	trk.StartGracefulShutdown()
	ctx := trk.ShutdownContext()

	// 执行跟踪任务
	var runErr error
	if stream {
		runErr = runStreamMode(ctx, trk, logger)
	} else {
		runErr = runBackfillMode(ctx, trk, logger)
	}

	// 任务结束后主动触发停机，确保进度与输出落盘
	logger.Info("等待优雅停机完成...")
	trk.Shutdown()
	trk.WaitForShutdown()

	return runErr
}

func runBackfillMode(ctx context.Context, trk *tracker.Tracker, logger *logrus.Logger) error {
	if startBlock == 0 || endBlock == 0 {
		return fmt.Errorf("回扫模式需要指定 --start-block 和 --end-block")
	}

	logger.Infof("开始回扫区块 %d - %d", startBlock, endBlock)

	result, err := trk.Backfill(ctx, startBlock, endBlock, workers, batchSize)
	if err != nil {
		return fmt.Errorf("回扫失败: %w", err)
	}

	// 输出统计信息
	logger.Info("回扫完成，统计信息:")
	logger.Infof("  扫描区块数: %d", result.ScannedBlocks)
	logger.Infof("  发现事件数: %d", result.TotalEvents)
	logger.Infof("  落地事件数: %d", result.AppliedEvents)
	logger.Infof("  耗时: %s", result.Duration)
	logger.Infof("  区块/秒: %.2f", result.BlocksPerSecond)
	if len(result.Errors) > 0 {
		logger.Warnf("  错误数: %d", len(result.Errors))
	}

	return nil
}

func runStreamMode(ctx context.Context, trk *tracker.Tracker, logger *logrus.Logger) error {
	logger.Info("启动实时流式跟踪模式")
	return trk.Stream(ctx)
}

// showProgress 显示扫描进度
func showProgress(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	trk, err := newTracker(logger, cfg)
	if err != nil {
		return err
	}
	defer trk.Close()

	progressInfo := trk.GetProgress()

	fmt.Println("📊 扫描进度信息")
	fmt.Println(strings.Repeat("=", 50))

	for key, value := range progressInfo {
		fmt.Printf("%-20s: %v\n", key, value)
	}

	return nil
}
