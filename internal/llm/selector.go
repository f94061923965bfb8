package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/errors"
	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
)

var indexPattern = regexp.MustCompile(`-?\d+`)

// Selector 模板选择器
type Selector struct {
	client    *Client
	catalogue *catalogue.Catalogue
	logger    *logrus.Logger
}

// NewSelector 创建模板选择器
func NewSelector(client *Client, cat *catalogue.Catalogue, logger *logrus.Logger) *Selector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Selector{client: client, catalogue: cat, logger: logger}
}

// Select 让模型从目录中选择模板
// 回复必须是目录内的数字下标或"unknown"，越界和无法解析都返回类型化错误
func (s *Selector) Select(ctx context.Context, message string, history []models.Message) (*models.EscrowTemplate, error) {
	prompt := selectorPromptHeader + renderTemplateList(s.catalogue.List()) + renderConversation(message, history)

	reply, err := s.client.Generate(ctx, "selector", prompt)
	if err != nil {
		return nil, err
	}

	index, err := parseTemplateIndex(reply)
	if err != nil {
		s.logger.WithField("reply", reply).Warn("模板选择回复无法解析")
		return nil, err
	}

	tmpl, err := s.catalogue.Get(index)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"reply": reply,
			"index": index,
		}).Warn("模板下标越界")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"index":    index,
		"template": tmpl.Name,
	}).Info("模板选择完成")

	return tmpl, nil
}

// Adapt 按用户要求改写模板源码，返回改写后的Solidity文本
// 改写结果只随回复返回，不会写回目录
func (s *Selector) Adapt(ctx context.Context, tmpl *models.EscrowTemplate, request string) (string, error) {
	prompt := adapterPrompt + "\n\nContract source:\n" + tmpl.Source + "\n\nUser request:\n" + request

	adapted, err := s.client.Generate(ctx, "adapter", prompt)
	if err != nil {
		return "", err
	}

	// 模型偶尔会把源码包在代码块里
	adapted = stripCodeFence(adapted)
	if adapted == "" {
		return "", errors.NewContractError(
			errors.ErrorTypeTemplateSelection,
			errors.SeverityMedium,
			"MALFORMED_REPLY",
			"模板改写回复为空",
		)
	}

	return adapted, nil
}

// parseTemplateIndex 从模型回复中提取数字下标
func parseTemplateIndex(reply string) (int, error) {
	lower := strings.ToLower(strings.TrimSpace(reply))
	if strings.Contains(lower, "unknown") {
		return 0, errors.NewContractError(
			errors.ErrorTypeTemplateSelection,
			errors.SeverityLow,
			"TEMPLATE_UNKNOWN",
			"没有匹配用户需求的模板",
		)
	}

	match := indexPattern.FindString(lower)
	if match == "" {
		return 0, errors.NewContractError(
			errors.ErrorTypeTemplateSelection,
			errors.SeverityMedium,
			"MALFORMED_REPLY",
			"模板选择回复既不是数字也不是unknown",
		)
	}

	index, err := strconv.Atoi(match)
	if err != nil {
		return 0, errors.WrapError(
			err,
			errors.ErrorTypeTemplateSelection,
			errors.SeverityMedium,
			"MALFORMED_REPLY",
			"模板下标解析失败",
		)
	}
	return index, nil
}

// stripCodeFence 去掉markdown代码块围栏
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
