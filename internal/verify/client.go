package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"satcontracts/internal/config"
	"satcontracts/internal/errors"
	"satcontracts/internal/retry"

	"github.com/sirupsen/logrus"
)

// Request 验证提交请求
type Request struct {
	ContractAddress string `json:"contract_address"`
	Source          string `json:"source"`
	ContractName    string `json:"contract_name"`
	CompilerVersion string `json:"compiler_version"`
	OptimizerRuns   int    `json:"optimizer_runs,omitempty"`
}

// Submission 验证提交结果
type Submission struct {
	GUID string `json:"guid"`
}

// Status 验证状态
type Status struct {
	GUID    string `json:"guid"`
	Pending bool   `json:"pending"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// etherscanResponse Etherscan风格接口的响应格式
type etherscanResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// Client Etherscan风格的合约验证服务客户端
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient 创建验证客户端
func NewClient(cfg *config.VerifierConfig, logger *logrus.Logger) (*Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.NewContractError(
			errors.ErrorTypeConfig, errors.SeverityCritical,
			"VERIFIER_CONFIG_MISSING", "缺少验证服务配置")
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

	return &Client{
		endpoint:   cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Submit 提交源码验证，返回用于轮询的GUID
func (c *Client) Submit(ctx context.Context, req *Request) (*Submission, error) {
	if req == nil || req.ContractAddress == "" || req.Source == "" {
		return nil, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityLow,
			"INVALID_VERIFY_REQUEST", "验证请求缺少合约地址或源码")
	}

	form := url.Values{}
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	form.Set("contractaddress", req.ContractAddress)
	form.Set("sourceCode", req.Source)
	form.Set("contractname", req.ContractName)
	form.Set("compilerversion", req.CompilerVersion)
	if req.OptimizerRuns > 0 {
		form.Set("optimizationUsed", "1")
		form.Set("runs", fmt.Sprintf("%d", req.OptimizerRuns))
	} else {
		form.Set("optimizationUsed", "0")
	}
	if c.apiKey != "" {
		form.Set("apikey", c.apiKey)
	}

	var remote *etherscanResponse
	err := retry.RetryNetworkOperation(ctx, "verify_submit", func() error {
		var err error
		remote, err = c.postForm(ctx, form)
		return err
	}, c.logger)
	if err != nil {
		return nil, err
	}

	if remote.Status != "1" {
		return nil, errors.NewContractError(errors.ErrorTypeVerifier, errors.SeverityMedium,
			"VERIFY_SUBMIT_REJECTED", fmt.Sprintf("验证提交被拒绝: %s", remote.Result))
	}

	c.logger.WithFields(logrus.Fields{
		"address": req.ContractAddress,
		"guid":    remote.Result,
	}).Info("合约验证已提交")

	return &Submission{GUID: remote.Result}, nil
}

// CheckStatus 按GUID查询验证状态
func (c *Client) CheckStatus(ctx context.Context, guid string) (*Status, error) {
	if guid == "" {
		return nil, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityLow,
			"EMPTY_GUID", "GUID不能为空")
	}

	form := url.Values{}
	form.Set("module", "contract")
	form.Set("action", "checkverifystatus")
	form.Set("guid", guid)
	if c.apiKey != "" {
		form.Set("apikey", c.apiKey)
	}

	var remote *etherscanResponse
	err := retry.RetryNetworkOperation(ctx, "verify_status", func() error {
		var err error
		remote, err = c.postForm(ctx, form)
		return err
	}, c.logger)
	if err != nil {
		return nil, err
	}

	status := &Status{
		GUID:    guid,
		Message: remote.Result,
	}
	switch {
	case strings.Contains(remote.Result, "Pending"):
		status.Pending = true
	case remote.Status == "1":
		status.Passed = true
	}
	return status, nil
}

func (c *Client) postForm(ctx context.Context, form url.Values) (*etherscanResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeNetwork, errors.SeverityHigh,
			"VERIFIER_UNREACHABLE", "验证服务请求失败")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeNetwork, errors.SeverityHigh,
			"VERIFIER_READ_FAILED", "读取验证服务响应失败")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewContractError(errors.ErrorTypeVerifier, errors.SeverityHigh,
			"VERIFIER_SERVER_ERROR", fmt.Sprintf("验证服务返回status code: %d", resp.StatusCode))
	}

	var remote etherscanResponse
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeVerifier, errors.SeverityHigh,
			"VERIFIER_RESPONSE_INVALID", "验证服务响应格式无效")
	}
	return &remote, nil
}
