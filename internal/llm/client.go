package llm

import (
	"context"
	"strings"
	"time"

	"satcontracts/internal/config"
	"satcontracts/internal/errors"
	"satcontracts/internal/retry"
	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultTimeout = 60 * time.Second

// Client 对话模型客户端
// 封装OpenAI兼容接口，统一超时、重试和日志
type Client struct {
	llm     llms.Model
	model   string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewClient 创建模型客户端
func NewClient(cfg *config.LLMConfig, logger *logrus.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.NewContractError(
			errors.ErrorTypeConfig,
			errors.SeverityCritical,
			"LLM_CONFIG_MISSING",
			"缺少llm配置",
		)
	}
	if logger == nil {
		logger = logrus.New()
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, errors.WrapError(
			err,
			errors.ErrorTypeLLM,
			errors.SeverityCritical,
			"LLM_CLIENT_INIT_FAILED",
			"初始化模型客户端失败",
		)
	}

	timeout := defaultTimeout
	if cfg.Timeout != "" {
		if parsed, err := time.ParseDuration(cfg.Timeout); err == nil {
			timeout = parsed
		}
	}

	return &Client{
		llm:     model,
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Generate 单次文本生成，带每次调用的超时和有界重试
// pass标识调用目的（intent/selector/adapter/general/contribution），只用于日志
func (c *Client) Generate(ctx context.Context, pass, prompt string) (string, error) {
	start := time.Now()
	var completion string

	err := retry.RetryLLMOperation(ctx, "llm_"+pass, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out, err := llms.GenerateFromSinglePrompt(callCtx, c.llm, prompt)
		if err != nil {
			return err
		}
		completion = out
		return nil
	}, c.logger)

	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"pass":  pass,
			"model": c.model,
		}).WithError(err).Error("模型调用失败")
		return "", errors.WrapError(
			err,
			errors.ErrorTypeLLM,
			errors.SeverityHigh,
			"LLM_CALL_FAILED",
			"模型调用失败",
		)
	}

	c.logger.WithFields(logrus.Fields{
		"pass":     pass,
		"model":    c.model,
		"duration": time.Since(start).String(),
		"reply_len": len(completion),
	}).Debug("模型调用完成")

	return strings.TrimSpace(completion), nil
}

// GenerateGeneral 通用对话：助手角色设定加会话上下文的单次生成
func (c *Client) GenerateGeneral(ctx context.Context, message string, history []models.Message) (string, error) {
	prompt := generalPrompt + renderConversation(message, history)
	return c.Generate(ctx, "general", prompt)
}
