package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"satcontracts/internal/config"
	"satcontracts/internal/errors"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Pool 以太坊节点连接池，按优先级在多个节点间做故障转移
type Pool struct {
	nodes       []*config.NodeConfig
	pools       map[string]*NodePool
	logger      *logrus.Logger
	mu          sync.RWMutex
	healthCheck time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NodePool 单个节点的连接池
type NodePool struct {
	nodeConfig *config.NodeConfig
	clients    chan *ethclient.Client
	maxSize    int
	current    int
	logger     *logrus.Logger
	mu         sync.Mutex
	isHealthy  bool
	lastCheck  time.Time
}

// NewPool 创建连接池
func NewPool(nodes []*config.NodeConfig, logger *logrus.Logger) *Pool {
	return &Pool{
		nodes:       nodes,
		pools:       make(map[string]*NodePool),
		logger:      logger,
		healthCheck: 30 * time.Second,
		stopCh:      make(chan struct{}),
	}
}

// Initialize 初始化连接池
func (p *Pool) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, node := range p.nodes {
		pool, err := NewNodePool(node, 10, p.logger) // 每个节点最多10个连接
		if err != nil {
			p.logger.Warnf("初始化节点 %s 连接池失败: %v", node.Name, err)
			continue
		}

		p.pools[node.Name] = pool
		p.logger.Infof("节点 %s 连接池已初始化", node.Name)
	}

	if len(p.pools) == 0 {
		return errors.NewContractError(errors.ErrorTypeConnection, errors.SeverityCritical,
			"NO_AVAILABLE_NODES", "没有可用的节点连接池")
	}

	go p.healthChecker()

	return nil
}

// NewNodePool 创建节点连接池
func NewNodePool(nodeConfig *config.NodeConfig, maxSize int, logger *logrus.Logger) (*NodePool, error) {
	pool := &NodePool{
		nodeConfig: nodeConfig,
		clients:    make(chan *ethclient.Client, maxSize),
		maxSize:    maxSize,
		logger:     logger,
		isHealthy:  true,
	}

	// 预创建一些连接
	initialSize := maxSize / 2
	if initialSize < 1 {
		initialSize = 1
	}

	for i := 0; i < initialSize; i++ {
		client, err := pool.createClient()
		if err != nil {
			logger.Warnf("预创建连接失败: %v", err)
			break
		}

		select {
		case pool.clients <- client:
			pool.current++
		default:
			client.Close()
		}
	}

	return pool, nil
}

// createClient 创建新的以太坊客户端
func (np *NodePool) createClient() (*ethclient.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(ctx, np.nodeConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	// 测试连接
	_, err = client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("测试连接失败: %w", err)
	}

	return client, nil
}

// GetClient 获取客户端连接，优先使用priority值小的节点
func (p *Pool) GetClient() (*ethclient.Client, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	type candidate struct {
		name     string
		pool     *NodePool
		priority int
	}

	var candidates []candidate
	for name, pool := range p.pools {
		if pool.IsHealthy() {
			candidates = append(candidates, candidate{
				name:     name,
				pool:     pool,
				priority: pool.nodeConfig.Priority,
			})
		}
	}

	if len(candidates) == 0 {
		return nil, "", errors.NewContractError(errors.ErrorTypeConnection, errors.SeverityHigh,
			"NO_HEALTHY_NODES", "没有可用的健康节点")
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})

	for _, c := range candidates {
		client, err := c.pool.GetClient()
		if err != nil {
			p.logger.Debugf("从节点 %s 获取连接失败: %v", c.name, err)
			continue
		}
		return client, c.name, nil
	}

	return nil, "", errors.NewContractError(errors.ErrorTypeConnection, errors.SeverityHigh,
		"ALL_NODES_EXHAUSTED", "所有节点都无法提供连接")
}

// GetClient 从节点池获取客户端
func (np *NodePool) GetClient() (*ethclient.Client, error) {
	// 首先尝试复用池中的连接
	select {
	case client := <-np.clients:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			np.mu.Lock()
			np.current--
			np.mu.Unlock()
			// 连接失效，创建新连接
			return np.createNewClient()
		}

		return client, nil
	default:
		return np.createNewClient()
	}
}

// createNewClient 创建新客户端连接
func (np *NodePool) createNewClient() (*ethclient.Client, error) {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.current >= np.maxSize {
		return nil, fmt.Errorf("连接池已满")
	}

	client, err := np.createClient()
	if err != nil {
		np.isHealthy = false
		return nil, err
	}

	np.current++
	return client, nil
}

// ReturnClient 归还客户端到池中
func (p *Pool) ReturnClient(client *ethclient.Client, nodeName string) {
	if client == nil {
		return
	}

	p.mu.RLock()
	pool, exists := p.pools[nodeName]
	p.mu.RUnlock()

	if !exists {
		client.Close()
		return
	}

	pool.ReturnClient(client)
}

// ReturnClient 归还客户端到节点池
func (np *NodePool) ReturnClient(client *ethclient.Client) {
	if client == nil {
		return
	}

	select {
	case np.clients <- client:
	default:
		// 池已满，直接关闭
		client.Close()
		np.mu.Lock()
		np.current--
		np.mu.Unlock()
	}
}

// IsHealthy 检查节点是否健康
func (np *NodePool) IsHealthy() bool {
	np.mu.Lock()
	defer np.mu.Unlock()

	// 最近检查过且健康则直接返回
	if time.Since(np.lastCheck) < 30*time.Second && np.isHealthy {
		return np.isHealthy
	}

	client, err := np.createClient()
	if err != nil {
		np.isHealthy = false
		np.lastCheck = time.Now()
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.ChainID(ctx)
	client.Close()

	np.isHealthy = (err == nil)
	np.lastCheck = time.Now()

	return np.isHealthy
}

// healthChecker 健康检查器
func (p *Pool) healthChecker() {
	ticker := time.NewTicker(p.healthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		p.mu.RLock()
		pools := make(map[string]*NodePool)
		for name, pool := range p.pools {
			pools[name] = pool
		}
		p.mu.RUnlock()

		for name, pool := range pools {
			if pool.IsHealthy() {
				p.logger.Debugf("节点 %s 健康检查通过", name)
			} else {
				p.logger.Warnf("节点 %s 健康检查失败", name)
			}
		}
	}
}

// GetStats 获取连接池统计信息
func (p *Pool) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]interface{})

	for name, pool := range p.pools {
		stats[name] = map[string]interface{}{
			"url":          pool.nodeConfig.URL,
			"priority":     pool.nodeConfig.Priority,
			"max_size":     pool.maxSize,
			"current_size": pool.current,
			"available":    len(pool.clients),
			"is_healthy":   pool.IsHealthy(),
			"last_check":   pool.lastCheck.Format(time.RFC3339),
		}
	}

	return stats
}

// Close 关闭连接池
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error

	for name, pool := range p.pools {
		if err := pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭节点 %s 连接池失败: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭连接池时发生错误: %v", errs)
	}

	p.logger.Info("连接池已关闭")
	return nil
}

// Close 关闭节点连接池
func (np *NodePool) Close() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	close(np.clients)
	for client := range np.clients {
		client.Close()
	}

	np.current = 0
	return nil
}

// Lease 连接租约，自动管理连接的获取和归还
type Lease struct {
	client   *ethclient.Client
	nodeName string
	pool     *Pool
}

// Acquire 获取一个连接租约
func (p *Pool) Acquire() (*Lease, error) {
	client, nodeName, err := p.GetClient()
	if err != nil {
		return nil, err
	}

	return &Lease{
		client:   client,
		nodeName: nodeName,
		pool:     p,
	}, nil
}

// Client 获取以太坊客户端
func (l *Lease) Client() *ethclient.Client {
	return l.client
}

// NodeName 获取节点名称
func (l *Lease) NodeName() string {
	return l.nodeName
}

// Release 归还连接
func (l *Lease) Release() {
	if l.client != nil {
		l.pool.ReturnClient(l.client, l.nodeName)
		l.client = nil
	}
}
