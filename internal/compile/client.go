package compile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"satcontracts/internal/config"
	"satcontracts/internal/errors"
	"satcontracts/internal/retry"

	"github.com/sirupsen/logrus"
)

const defaultCacheSize = 256

// Request 编译请求
type Request struct {
	Source        string `json:"source"`
	ContractName  string `json:"contract_name,omitempty"`
	OptimizerRuns int    `json:"optimizer_runs,omitempty"`
}

// Result 编译结果
type Result struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
	Warnings []string        `json:"warnings,omitempty"`
}

// remoteResponse 远程编译服务的响应格式
type remoteResponse struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
	Warnings []string        `json:"warnings"`
	Errors   []string        `json:"errors"`
}

// Client 远程Solidity编译服务客户端
// 按源码哈希缓存成功结果，缓存有界，满了淘汰最旧的条目
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger

	mu        sync.Mutex
	cache     map[string]*Result
	cacheKeys []string
	cacheSize int
}

// NewClient 创建编译客户端
func NewClient(cfg *config.CompilerConfig, logger *logrus.Logger) (*Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.NewContractError(
			errors.ErrorTypeConfig, errors.SeverityCritical,
			"COMPILER_CONFIG_MISSING", "缺少编译服务配置")
	}
	if logger == nil {
		logger = logrus.New()
	}

	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		if parsed, err := time.ParseDuration(cfg.Timeout); err == nil {
			timeout = parsed
		}
	}

	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	return &Client{
		endpoint:   cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		cache:      make(map[string]*Result),
		cacheSize:  cacheSize,
	}, nil
}

// Compile 编译Solidity源码
func (c *Client) Compile(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Source == "" {
		return nil, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityLow,
			"EMPTY_SOURCE", "源码不能为空")
	}

	key := cacheKey(req)
	if cached := c.lookup(key); cached != nil {
		c.logger.WithField("cache_key", key[:12]).Debug("命中编译缓存")
		return cached, nil
	}

	var result *Result
	err := retry.RetryNetworkOperation(ctx, "compile", func() error {
		var err error
		result, err = c.doCompile(ctx, req)
		return err
	}, c.logger)
	if err != nil {
		return nil, err
	}

	c.store(key, result)
	return result, nil
}

// CacheLen 当前缓存条目数
func (c *Client) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Client) doCompile(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"COMPILE_REQUEST_ENCODE_FAILED", "序列化编译请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeNetwork, errors.SeverityHigh,
			"COMPILER_UNREACHABLE", "编译服务请求失败")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeNetwork, errors.SeverityHigh,
			"COMPILER_READ_FAILED", "读取编译服务响应失败")
	}

	if resp.StatusCode >= 500 {
		return nil, errors.NewContractError(errors.ErrorTypeCompiler, errors.SeverityHigh,
			"COMPILER_SERVER_ERROR", fmt.Sprintf("编译服务返回status code: %d", resp.StatusCode))
	}

	var remote remoteResponse
	if err := json.Unmarshal(respBody, &remote); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeCompiler, errors.SeverityHigh,
			"COMPILER_RESPONSE_INVALID", "编译服务响应格式无效")
	}

	if resp.StatusCode != http.StatusOK || len(remote.Errors) > 0 {
		compileErr := errors.NewContractError(errors.ErrorTypeCompiler, errors.SeverityMedium,
			"COMPILE_FAILED", "合约编译失败")
		for i, msg := range remote.Errors {
			compileErr = compileErr.WithContext(fmt.Sprintf("error_%d", i), msg)
		}
		return nil, compileErr
	}

	if remote.Bytecode == "" {
		return nil, errors.NewContractError(errors.ErrorTypeCompiler, errors.SeverityMedium,
			"COMPILE_EMPTY_OUTPUT", "编译结果缺少字节码")
	}

	return &Result{
		ABI:      remote.ABI,
		Bytecode: remote.Bytecode,
		Warnings: remote.Warnings,
	}, nil
}

func (c *Client) lookup(key string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[key]
}

func (c *Client) store(key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; exists {
		return
	}

	// 达到上限时淘汰最旧的条目
	if len(c.cacheKeys) >= c.cacheSize {
		oldest := c.cacheKeys[0]
		c.cacheKeys = c.cacheKeys[1:]
		delete(c.cache, oldest)
	}

	c.cache[key] = result
	c.cacheKeys = append(c.cacheKeys, key)
}

func cacheKey(req *Request) string {
	h := sha256.New()
	h.Write([]byte(req.Source))
	h.Write([]byte(req.ContractName))
	fmt.Fprintf(h, "%d", req.OptimizerRuns)
	return hex.EncodeToString(h.Sum(nil))
}
