package tracker

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/config"
	"satcontracts/internal/errors"
	"satcontracts/internal/logging"
	"satcontracts/internal/output"
	"satcontracts/internal/progress"
	"satcontracts/internal/retry"
	"satcontracts/internal/shutdown"
	"satcontracts/internal/store"
	"satcontracts/pkg/models"
)

// 跟踪器常量
const (
	DefaultPollInterval = 12 * time.Second // 流式跟踪轮询间隔，约等于一个出块周期
	DefaultWorkerCount  = 2                // 默认工作协程数
	DefaultBatchSize    = 100              // 默认每批扫描区块数
	DefaultRetryLimit   = 3                // 默认重试次数

	MaxBlocksPerBatch    = 2000 // 每批最大区块数，受FilterLogs范围限制
	MaxConcurrentWorkers = 20   // 最大并发工作协程数
)

// ScanResult 一段区块范围的扫描结果
type ScanResult struct {
	FromBlock uint64
	ToBlock   uint64
	Events    []*models.ContractEvent
	Error     error
}

// BackfillResult 回扫汇总结果
type BackfillResult struct {
	StartBlock      uint64
	EndBlock        uint64
	ScannedBlocks   uint64
	TotalEvents     uint64
	AppliedEvents   uint64
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	BlocksPerSecond float64
	Errors          []error
}

// NodeClient 节点客户端
type NodeClient struct {
	Name         string
	URL          string
	Type         string
	RateLimit    int
	Priority     int
	Client       *ethclient.Client
	Available    bool
	LastUsed     time.Time
	RateLimited  bool      // 是否被速率限制
	RateLimitEnd time.Time // 速率限制结束时间
	ErrorCount   int       // 错误计数
	mu           sync.RWMutex
}

// isRateLimitError 检测是否为429错误
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return containsAny(errStr, []string{
		"429", "Too Many Requests", "rate limit", "Rate limit",
		"quota exceeded", "request limit", "requests per second",
		"API rate limit exceeded", "exceed rate limit",
	})
}

// containsAny 检查字符串是否包含任意一个子字符串
func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// Tracker 托管合约事件跟踪器
// 扫描已部署合约的链上日志，推进合约记录状态并输出事件
type Tracker struct {
	nodes            []*NodeClient
	blockchainConfig *config.BlockchainConfig
	trackerConfig    *config.TrackerConfig
	contractStore    store.ContractStore
	catalogue        *catalogue.Catalogue
	outputter        output.Output
	logger           *logrus.Logger
	mu               sync.RWMutex
	currentNodeIndex int
	progressManager  *progress.Manager
	retrier          *retry.Retrier
	gracefulShutdown *shutdown.GracefulShutdown
	structuredLogger *logging.StructuredLogger
}

// validateConfig 验证配置参数
func validateConfig(cfg *config.BlockchainConfig, st store.ContractStore, out output.Output, logger *logrus.Logger) error {
	if cfg == nil {
		return fmt.Errorf("区块链配置不能为空")
	}
	if st == nil {
		return fmt.Errorf("合约存储不能为空")
	}
	if out == nil {
		return fmt.Errorf("输出器不能为空")
	}
	if logger == nil {
		return fmt.Errorf("日志器不能为空")
	}
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("至少需要配置一个区块链节点")
	}

	for i, node := range cfg.Nodes {
		if node.Name == "" {
			return fmt.Errorf("节点 %d 的名称不能为空", i)
		}
		if node.URL == "" {
			return fmt.Errorf("节点 %s 的URL不能为空", node.Name)
		}
	}

	return nil
}

// NewTracker 创建事件跟踪器
func NewTracker(blockchainCfg *config.BlockchainConfig, trackerCfg *config.TrackerConfig,
	st store.ContractStore, cat *catalogue.Catalogue, out output.Output, logger *logrus.Logger) (*Tracker, error) {

	if err := validateConfig(blockchainCfg, st, out, logger); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfig, errors.SeverityCritical,
			"TRACKER_CONFIG_INVALID", "跟踪器配置验证失败")
	}

	var nodes []*NodeClient

	for _, nodeConfig := range blockchainCfg.Nodes {
		client, err := ethclient.Dial(nodeConfig.URL)
		if err != nil {
			logger.Warnf("连接节点 %s 失败: %v", nodeConfig.Name, err)
			continue
		}

		// 测试节点连接
		if _, err := client.BlockNumber(context.Background()); err != nil {
			logger.Warnf("节点 %s 不可用: %v", nodeConfig.Name, err)
			client.Close()
			continue
		}

		nodes = append(nodes, &NodeClient{
			Name:      nodeConfig.Name,
			URL:       nodeConfig.URL,
			Type:      nodeConfig.Type,
			RateLimit: nodeConfig.RateLimit,
			Priority:  nodeConfig.Priority,
			Client:    client,
			Available: true,
			LastUsed:  time.Now(),
		})
		logger.Infof("成功连接到节点: %s", nodeConfig.Name)
	}

	if len(nodes) == 0 {
		return nil, errors.NewContractError(errors.ErrorTypeConnection, errors.SeverityCritical,
			"NO_AVAILABLE_NODES", "无法连接到任何区块链节点")
	}

	// 按优先级排序节点（优先级数字越小越优先）
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Priority < nodes[j].Priority
	})

	progressDB := ""
	if trackerCfg != nil {
		progressDB = trackerCfg.ProgressDB
	}
	progressManager, err := progress.NewManager(progressDB, logger)
	if err != nil {
		logger.Warnf("初始化进度管理器失败: %v，将不支持断点续传", err)
	}

	gracefulShutdown := shutdown.NewGracefulShutdown(30*time.Second, logger)

	tracker := &Tracker{
		nodes:            nodes,
		blockchainConfig: blockchainCfg,
		trackerConfig:    trackerCfg,
		contractStore:    st,
		catalogue:        cat,
		outputter:        out,
		logger:           logger,
		currentNodeIndex: 0,
		progressManager:  progressManager,
		retrier:          retry.NewRetrier(retry.NetworkRetryConfig, logger),
		gracefulShutdown: gracefulShutdown,
	}

	tracker.registerShutdownHandlers()

	return tracker, nil
}

// NewTrackerWithLogging 创建带结构化日志的事件跟踪器
// logConfig为空时退化为普通跟踪器
func NewTrackerWithLogging(blockchainCfg *config.BlockchainConfig, trackerCfg *config.TrackerConfig,
	st store.ContractStore, cat *catalogue.Catalogue, out output.Output, logger *logrus.Logger,
	logConfig *logging.LogConfig) (*Tracker, error) {

	tracker, err := NewTracker(blockchainCfg, trackerCfg, st, cat, out, logger)
	if err != nil {
		return nil, err
	}

	if logConfig != nil {
		structuredLogger, err := logging.NewStructuredLogger(logConfig)
		if err != nil {
			logger.Warnf("初始化结构化日志失败: %v", err)
		} else {
			tracker.structuredLogger = structuredLogger
		}
	}

	return tracker, nil
}

// logEventApplied 记录一次事件落地（结构化日志）
func (t *Tracker) logEventApplied(event *models.ContractEvent) {
	if t.structuredLogger == nil {
		return
	}
	contractLog := logging.NewContractLogger(t.structuredLogger, event.ContractID, event.ContractAddress)
	contractLog.Info("合约事件已落地",
		"event", event.EventName,
		"block", event.BlockNumber,
		"tx_hash", event.TxHash,
	)
}

// logBackfillCompleted 记录回扫完成（结构化日志）
func (t *Tracker) logBackfillCompleted(result *BackfillResult) {
	if t.structuredLogger == nil {
		return
	}
	t.structuredLogger.InfoWithFields("回扫完成", map[string]any{
		"start_block":    result.StartBlock,
		"end_block":      result.EndBlock,
		"scanned_blocks": result.ScannedBlocks,
		"total_events":   result.TotalEvents,
		"applied_events": result.AppliedEvents,
		"duration":       result.Duration.String(),
		"blocks_per_sec": result.BlocksPerSecond,
		"errors":         len(result.Errors),
	})
}

// StartGracefulShutdown 启动停机信号监听
func (t *Tracker) StartGracefulShutdown() {
	if t.gracefulShutdown != nil {
		t.gracefulShutdown.Start()
	}
}

// ShutdownContext 停机时会被取消的上下文
func (t *Tracker) ShutdownContext() context.Context {
	if t.gracefulShutdown != nil {
		return t.gracefulShutdown.Context()
	}
	return context.Background()
}

// Shutdown 手动触发停机流程，任务自然结束后调用
func (t *Tracker) Shutdown() {
	if t.gracefulShutdown != nil {
		t.gracefulShutdown.Shutdown()
	}
}

// WaitForShutdown 阻塞等待停机流程结束
func (t *Tracker) WaitForShutdown() {
	if t.gracefulShutdown != nil {
		t.gracefulShutdown.WaitForShutdown()
	}
}

// ResetProgress 重置扫描进度
func (t *Tracker) ResetProgress() error {
	if t.progressManager == nil {
		return fmt.Errorf("进度管理器未初始化")
	}
	return t.progressManager.Reset()
}

// registerShutdownHandlers 注册停机处理函数
func (t *Tracker) registerShutdownHandlers() {
	if t.gracefulShutdown == nil {
		return
	}

	t.gracefulShutdown.RegisterShutdownFunc("node_connections", func(ctx context.Context) error {
		for _, node := range t.nodes {
			if node.Client != nil {
				node.Client.Close()
			}
		}
		return nil
	}, 1)

	t.gracefulShutdown.RegisterShutdownFunc("progress_manager", func(ctx context.Context) error {
		if t.progressManager != nil {
			return t.progressManager.Close()
		}
		return nil
	}, 2)

	t.gracefulShutdown.RegisterShutdownFunc("outputter", func(ctx context.Context) error {
		if t.outputter != nil {
			return t.outputter.Close()
		}
		return nil
	}, 3)
}

// getNextAvailableNode 获取下一个可用节点
func (t *Tracker) getNextAvailableNode() *NodeClient {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	for i := 0; i < len(t.nodes); i++ {
		index := (t.currentNodeIndex + i) % len(t.nodes)
		node := t.nodes[index]

		node.mu.RLock()
		available := node.Available
		rateLimited := node.RateLimited
		rateLimitEnd := node.RateLimitEnd
		node.mu.RUnlock()

		// 检查速率限制是否已过期
		if rateLimited && now.After(rateLimitEnd) {
			node.mu.Lock()
			node.RateLimited = false
			node.ErrorCount = 0
			t.logger.Infof("节点 %s 速率限制已解除", node.Name)
			node.mu.Unlock()
			rateLimited = false
		}

		if available && !rateLimited {
			t.currentNodeIndex = index
			return node
		}
	}

	// 没有可用节点时，把非限流节点重新标记为可用
	t.logger.Warn("所有节点都不可用，尝试重新启用...")
	for _, node := range t.nodes {
		node.mu.Lock()
		if !node.RateLimited {
			node.Available = true
		}
		node.mu.Unlock()
	}

	if len(t.nodes) > 0 {
		return t.nodes[0]
	}
	return nil
}

// markNodeRateLimited 标记节点为速率限制状态
func (t *Tracker) markNodeRateLimited(nodeName string, err error) {
	for _, node := range t.nodes {
		if node.Name == nodeName {
			node.mu.Lock()
			node.RateLimited = true
			node.RateLimitEnd = time.Now().Add(5 * time.Minute)
			node.ErrorCount++
			node.mu.Unlock()

			t.logger.Errorf("节点 %s 达到速率限制: %v - 将在5分钟后重试", nodeName, err)
			break
		}
	}
}

// handleNodeError 处理节点错误
func (t *Tracker) handleNodeError(nodeName string, err error) {
	if isRateLimitError(err) {
		t.markNodeRateLimited(nodeName, err)
		return
	}

	for _, node := range t.nodes {
		if node.Name == nodeName {
			node.mu.Lock()
			node.ErrorCount++
			if node.ErrorCount >= 3 {
				node.Available = false
				t.logger.Warnf("节点 %s 错误次数过多，暂时禁用", nodeName)
			}
			node.mu.Unlock()
			break
		}
	}
}

// getClientWithNodeName 获取可用的客户端和节点名称
func (t *Tracker) getClientWithNodeName() (*ethclient.Client, string) {
	node := t.getNextAvailableNode()
	if node == nil {
		return nil, ""
	}
	return node.Client, node.Name
}

// trackedAddresses 读取需要跟踪的合约，返回地址列表与地址到记录的映射
func (t *Tracker) trackedAddresses(ctx context.Context) ([]common.Address, map[common.Address]*models.DeployedContract, error) {
	contracts, err := t.contractStore.ListTracked(ctx)
	if err != nil {
		return nil, nil, err
	}

	addresses := make([]common.Address, 0, len(contracts))
	byAddress := make(map[common.Address]*models.DeployedContract, len(contracts))
	for _, contract := range contracts {
		if contract.Address == "" {
			continue
		}
		addr := common.HexToAddress(contract.Address)
		addresses = append(addresses, addr)
		byAddress[addr] = contract
	}

	return addresses, byAddress, nil
}

// scanRange 扫描一段区块范围内所有被跟踪合约的日志
func (t *Tracker) scanRange(ctx context.Context, fromBlock, toBlock uint64,
	addresses []common.Address, byAddress map[common.Address]*models.DeployedContract) *ScanResult {

	result := &ScanResult{FromBlock: fromBlock, ToBlock: toBlock}

	if len(addresses) == 0 {
		return result
	}

	client, nodeName := t.getClientWithNodeName()
	if client == nil {
		result.Error = errors.NewContractError(errors.ErrorTypeConnection, errors.SeverityHigh,
			"NO_AVAILABLE_NODES", "没有可用的节点")
		return result
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}

	var logs []types.Log
	err := t.retrier.Execute(ctx, fmt.Sprintf("扫描区块%d-%d日志", fromBlock, toBlock), func() error {
		var filterErr error
		logs, filterErr = client.FilterLogs(ctx, query)
		return filterErr
	})
	if err != nil {
		t.handleNodeError(nodeName, err)
		result.Error = errors.WrapError(err, errors.ErrorTypeBlockchain, errors.SeverityHigh,
			"FILTER_LOGS_FAILED", fmt.Sprintf("扫描区块 %d-%d 日志失败", fromBlock, toBlock))
		return result
	}

	for i := range logs {
		event, err := t.decodeLog(&logs[i], byAddress)
		if err != nil {
			t.logger.Debugf("跳过无法解码的日志 tx=%s index=%d: %v",
				logs[i].TxHash.Hex(), logs[i].Index, err)
			continue
		}
		result.Events = append(result.Events, event)
	}

	return result
}

// decodeLog 把链上日志解码为合约事件
func (t *Tracker) decodeLog(log *types.Log, byAddress map[common.Address]*models.DeployedContract) (*models.ContractEvent, error) {
	contract, tracked := byAddress[log.Address]
	if !tracked {
		return nil, fmt.Errorf("地址 %s 不在跟踪范围内", log.Address.Hex())
	}

	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("日志没有topic")
	}

	eventsABI := t.catalogue.EventsABI()
	eventDef, err := eventsABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("未知事件签名 %s", log.Topics[0].Hex())
	}

	event := &models.ContractEvent{
		ContractID:      contract.ID,
		ContractAddress: contract.Address,
		EventName:       eventDef.Name,
		BlockNumber:     log.BlockNumber,
		TxHash:          log.TxHash.Hex(),
		LogIndex:        log.Index,
		Timestamp:       time.Now(),
	}

	// 四个事件的第一个indexed参数都是地址
	if len(log.Topics) > 1 {
		event.Party = common.HexToAddress(log.Topics[1].Hex()).Hex()
	}

	// Deposited/Released/Refunded携带金额
	if len(log.Data) > 0 {
		values, err := eventsABI.Unpack(eventDef.Name, log.Data)
		if err == nil && len(values) > 0 {
			if amount, ok := values[0].(*big.Int); ok {
				event.Amount = amount
			}
		}
	}

	return event, nil
}

// applyEvent 根据事件推进合约记录状态并输出
func (t *Tracker) applyEvent(ctx context.Context, event *models.ContractEvent,
	byAddress map[common.Address]*models.DeployedContract) error {

	contract := byAddress[common.HexToAddress(event.ContractAddress)]
	if contract != nil {
		if next := event.NextStatus(contract.Status); next != "" && next != contract.Status {
			if err := t.contractStore.UpdateStatus(ctx, contract.ID, next); err != nil {
				t.logger.Errorf("更新合约 %s 状态到 %s 失败: %v", contract.ID, next, err)
			} else {
				contract.Status = next
				t.logger.WithFields(logrus.Fields{
					"contract_id": contract.ID,
					"event":       event.EventName,
					"status":      next,
				}).Info("合约状态已推进")
			}
		}
	}

	if err := t.outputter.WriteContractEvent(event); err != nil {
		return fmt.Errorf("输出合约事件失败: %w", err)
	}

	if t.progressManager != nil {
		if err := t.progressManager.CountEvent(event.EventName); err != nil {
			t.logger.Debugf("累计事件统计失败: %v", err)
		}
	}

	t.logEventApplied(event)

	return nil
}

// Stream 流式跟踪：轮询链头，增量扫描新区块
func (t *Tracker) Stream(ctx context.Context) error {
	t.logger.Info("开始流式事件跟踪")

	pollInterval := DefaultPollInterval
	if t.trackerConfig != nil && t.trackerConfig.PollInterval != "" {
		if parsed, err := time.ParseDuration(t.trackerConfig.PollInterval); err == nil {
			pollInterval = parsed
		}
	}

	client, nodeName := t.getClientWithNodeName()
	if client == nil {
		return errors.NewContractError(errors.ErrorTypeConnection, errors.SeverityCritical,
			"NO_AVAILABLE_NODES", "没有可用的节点")
	}

	latestBlock, err := client.BlockNumber(ctx)
	if err != nil {
		t.handleNodeError(nodeName, err)
		return errors.WrapError(err, errors.ErrorTypeBlockchain, errors.SeverityHigh,
			"HEAD_QUERY_FAILED", "获取最新区块号失败")
	}

	// 没有历史进度时从当前链头开始
	if t.progressManager != nil {
		if err := t.progressManager.SetStartBlock(latestBlock); err != nil {
			t.logger.Warnf("设置起始区块失败: %v", err)
		}
	}

	lastScanned := latestBlock
	if t.progressManager != nil {
		lastScanned = t.progressManager.LastScannedBlock()
	}

	t.logger.Infof("开始监听托管合约事件，起始区块: %d，轮询间隔: %s", lastScanned, pollInterval)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			client, nodeName := t.getClientWithNodeName()
			if client == nil {
				t.logger.Warn("没有可用的节点，跳过本轮扫描")
				continue
			}

			currentLatest, err := client.BlockNumber(ctx)
			if err != nil {
				t.handleNodeError(nodeName, err)
				t.logger.Errorf("获取最新区块号失败: %v", err)
				continue
			}

			if currentLatest <= lastScanned {
				continue
			}

			addresses, byAddress, err := t.trackedAddresses(ctx)
			if err != nil {
				t.logger.Errorf("读取跟踪合约列表失败: %v", err)
				continue
			}
			if len(addresses) == 0 {
				t.markScanned(currentLatest, currentLatest-lastScanned)
				lastScanned = currentLatest
				continue
			}

			fromBlock := lastScanned + 1
			result := t.scanRange(ctx, fromBlock, currentLatest, addresses, byAddress)
			if result.Error != nil {
				t.logger.Errorf("扫描区块 %d-%d 失败: %v", fromBlock, currentLatest, result.Error)
				continue
			}

			for _, event := range result.Events {
				if err := t.applyEvent(ctx, event, byAddress); err != nil {
					t.logger.Errorf("处理事件失败: %v", err)
				}
			}

			if len(result.Events) > 0 {
				t.logger.Infof("区块 %d-%d 扫描到 %d 个托管事件", fromBlock, currentLatest, len(result.Events))
			}

			t.markScanned(currentLatest, currentLatest-lastScanned)
			lastScanned = currentLatest

		case <-ctx.Done():
			t.logger.Info("流式跟踪已停止")
			return ctx.Err()
		}
	}
}

// markScanned 持久化扫描进度
func (t *Tracker) markScanned(block, scanned uint64) {
	if t.progressManager == nil {
		return
	}
	if err := t.progressManager.MarkScanned(block, scanned); err != nil {
		t.logger.Warnf("保存扫描进度失败: %v", err)
	}
}

// validateBackfillParams 验证回扫参数
func validateBackfillParams(startBlock, endBlock uint64, workers, batchSize int) error {
	if startBlock > endBlock {
		return fmt.Errorf("起始区块号(%d)不能大于结束区块号(%d)", startBlock, endBlock)
	}
	if workers <= 0 || workers > MaxConcurrentWorkers {
		return fmt.Errorf("工作协程数必须在1-%d之间，当前值: %d", MaxConcurrentWorkers, workers)
	}
	if batchSize <= 0 || batchSize > MaxBlocksPerBatch {
		return fmt.Errorf("每批区块数必须在1-%d之间，当前值: %d", MaxBlocksPerBatch, batchSize)
	}
	if endBlock-startBlock+1 > 1000000 {
		return fmt.Errorf("区块范围过大，最大支持100万个区块")
	}
	return nil
}

// Backfill 回扫历史区块范围内的托管事件
func (t *Tracker) Backfill(ctx context.Context, startBlock, endBlock uint64, workers, batchSize int) (*BackfillResult, error) {
	if err := validateBackfillParams(startBlock, endBlock, workers, batchSize); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_BACKFILL_PARAMS", "回扫参数验证失败")
	}

	addresses, byAddress, err := t.trackedAddresses(ctx)
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		t.logger.Warn("没有需要跟踪的已部署合约，回扫直接完成")
		return &BackfillResult{
			StartBlock: startBlock,
			EndBlock:   endBlock,
			StartTime:  time.Now(),
			EndTime:    time.Now(),
		}, nil
	}

	t.logger.Infof("开始回扫区块 %d - %d，共 %d 个合约，使用 %d 个工作者",
		startBlock, endBlock, len(addresses), workers)

	result := &BackfillResult{
		StartBlock: startBlock,
		EndBlock:   endBlock,
		StartTime:  time.Now(),
	}

	type blockRange struct{ from, to uint64 }

	taskChan := make(chan blockRange, workers*2)
	resultChan := make(chan *ScanResult, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				scan := t.scanRange(ctx, task.from, task.to, addresses, byAddress)
				select {
				case resultChan <- scan:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// 发送任务
	go func() {
		defer close(taskChan)
		for from := startBlock; from <= endBlock; from += uint64(batchSize) {
			to := from + uint64(batchSize) - 1
			if to > endBlock {
				to = endBlock
			}
			select {
			case taskChan <- blockRange{from: from, to: to}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for {
		select {
		case scan, ok := <-resultChan:
			if !ok {
				result.EndTime = time.Now()
				result.Duration = result.EndTime.Sub(result.StartTime)
				if result.Duration.Seconds() > 0 {
					result.BlocksPerSecond = float64(result.ScannedBlocks) / result.Duration.Seconds()
				}
				t.logger.Infof("回扫完成: %d 个区块, %d 个事件, 耗时 %s",
					result.ScannedBlocks, result.TotalEvents, result.Duration)
				t.logBackfillCompleted(result)
				return result, nil
			}

			if scan.Error != nil {
				result.Errors = append(result.Errors, scan.Error)
				t.logger.Errorf("回扫区块 %d-%d 失败: %v", scan.FromBlock, scan.ToBlock, scan.Error)
				continue
			}

			result.ScannedBlocks += scan.ToBlock - scan.FromBlock + 1
			result.TotalEvents += uint64(len(scan.Events))

			for _, event := range scan.Events {
				if err := t.applyEvent(ctx, event, byAddress); err != nil {
					result.Errors = append(result.Errors, err)
					continue
				}
				result.AppliedEvents++
			}

		case <-ctx.Done():
			t.logger.Warn("回扫被取消")
			return result, ctx.Err()
		}
	}
}

// GetNodeStatus 获取所有节点的状态信息
func (t *Tracker) GetNodeStatus() map[string]interface{} {
	status := make(map[string]interface{})
	nodes := make([]map[string]interface{}, 0, len(t.nodes))

	now := time.Now()
	for _, node := range t.nodes {
		node.mu.RLock()
		nodeInfo := map[string]interface{}{
			"name":         node.Name,
			"url":          node.URL,
			"type":         node.Type,
			"priority":     node.Priority,
			"available":    node.Available,
			"rate_limited": node.RateLimited,
			"error_count":  node.ErrorCount,
		}

		if node.RateLimited {
			remaining := node.RateLimitEnd.Sub(now)
			if remaining > 0 {
				nodeInfo["rate_limit_remaining"] = remaining.String()
			} else {
				nodeInfo["rate_limit_remaining"] = "已过期"
			}
		}

		node.mu.RUnlock()
		nodes = append(nodes, nodeInfo)
	}

	status["nodes"] = nodes
	status["total_nodes"] = len(t.nodes)

	availableCount := 0
	rateLimitedCount := 0
	for _, node := range t.nodes {
		node.mu.RLock()
		if node.Available && !node.RateLimited {
			availableCount++
		}
		if node.RateLimited && now.Before(node.RateLimitEnd) {
			rateLimitedCount++
		}
		node.mu.RUnlock()
	}

	status["available_nodes"] = availableCount
	status["rate_limited_nodes"] = rateLimitedCount

	return status
}

// GetProgress 获取扫描进度
func (t *Tracker) GetProgress() map[string]interface{} {
	if t.progressManager == nil {
		return map[string]interface{}{}
	}
	return t.progressManager.GetStats()
}

// Close 关闭跟踪器
func (t *Tracker) Close() {
	if t.gracefulShutdown != nil {
		t.gracefulShutdown.Shutdown()
		if err := t.gracefulShutdown.Close(); err != nil {
			t.logger.Errorf("关闭优雅停机管理器失败: %v", err)
		}
		return
	}

	for _, node := range t.nodes {
		if node.Client != nil {
			node.Client.Close()
		}
	}
	if t.progressManager != nil {
		t.progressManager.Close()
	}
	if t.outputter != nil {
		t.outputter.Close()
	}
}
