package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"satcontracts/internal/api"
	"satcontracts/internal/catalogue"
	"satcontracts/internal/chain"
	"satcontracts/internal/chat"
	"satcontracts/internal/compile"
	"satcontracts/internal/config"
	"satcontracts/internal/llm"
	"satcontracts/internal/output"
	"satcontracts/internal/store"
	"satcontracts/internal/validation"
	"satcontracts/internal/verify"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	outputPath = flag.String("output", "./outputs", "输出路径")
	port       = flag.Int("port", 0, "API 服务端口（0表示使用配置文件中的端口）")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// 设置日志级别
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// 自动检测并加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}

	// 模板目录
	cat, err := catalogue.New(logger)
	if err != nil {
		logger.Fatalf("加载模板目录失败: %v", err)
	}

	// 合约存储
	var contractStore store.ContractStore
	if cfg.Store != nil && cfg.Store.PostgresDSN != "" {
		contractStore, err = store.NewPostgresStore(cfg.Store.PostgresDSN, logger)
		if err != nil {
			logger.Fatalf("连接Postgres失败: %v", err)
		}
	} else {
		logger.Warn("未配置Postgres，使用内存存储（重启后数据丢失）")
		contractStore = store.NewMemoryStore()
	}
	defer contractStore.Close()

	// 输出器，贡献记录会写到这里
	var outputter output.Output
	if cfg.Output != nil && (cfg.Output.Format == "kafka" || cfg.Output.Format == "kafka_async") {
		outputter, err = output.NewOutputWithConfig(*outputPath, cfg.Output.Format, cfg.Output.Compress, cfg.Output.Kafka)
	} else {
		format := "json"
		compress := false
		if cfg.Output != nil {
			if cfg.Output.Format != "" {
				format = cfg.Output.Format
			}
			compress = cfg.Output.Compress
		}
		outputter, err = output.NewOutput(*outputPath, format, compress)
	}
	if err != nil {
		logger.Fatalf("创建输出器失败: %v", err)
	}
	defer outputter.Close()

	deps := api.Deps{
		Catalogue: cat,
		Store:     contractStore,
		Validator: validation.NewValidator(logger, false),
	}

	// LLM会话管线
	if cfg.LLM != nil && cfg.LLM.APIKey != "" {
		client, err := llm.NewClient(cfg.LLM, logger)
		if err != nil {
			logger.Fatalf("初始化LLM客户端失败: %v", err)
		}
		deps.Pipeline = chat.NewPipeline(
			llm.NewRouter(client, logger),
			llm.NewSelector(client, cat, logger),
			llm.NewContributionExtractor(client, logger),
			client,
			outputter,
			logger,
		)
	} else {
		logger.Warn("未配置LLM，会话接口不可用")
	}

	// 链上网关
	if cfg.Blockchain != nil && len(cfg.Blockchain.Nodes) > 0 {
		gateway, err := chain.NewGateway(cfg.Blockchain, cat, logger)
		if err != nil {
			logger.Warnf("初始化链上网关失败: %v，部署与资产接口不可用", err)
		} else {
			deps.Gateway = gateway
			defer gateway.Close()
		}
	}

	// 编译服务
	if cfg.Compiler != nil && cfg.Compiler.URL != "" {
		compiler, err := compile.NewClient(cfg.Compiler, logger)
		if err != nil {
			logger.Warnf("初始化编译客户端失败: %v", err)
		} else {
			deps.Compiler = compiler
		}
	}

	// 验证服务
	if cfg.Verifier != nil && cfg.Verifier.URL != "" {
		verifier, err := verify.NewClient(cfg.Verifier, logger)
		if err != nil {
			logger.Warnf("初始化验证客户端失败: %v", err)
		} else {
			deps.Verifier = verifier
		}
	}

	listenPort := *port
	if listenPort == 0 {
		listenPort = cfg.Server.Port
	}
	if listenPort == 0 {
		listenPort = 8080
	}

	// 创建API服务器
	server := api.NewServer(cfg, deps, logger, listenPort)

	// 启动服务器
	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", listenPort)

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("正在关闭服务器...")
	if err := server.Stop(); err != nil {
		logger.Errorf("关闭服务器失败: %v", err)
	}

	logger.Info("服务器已关闭")
}
