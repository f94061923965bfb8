package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
)

// ContributionExtractor 贡献记录提取器
type ContributionExtractor struct {
	client *Client
	logger *logrus.Logger
}

// NewContributionExtractor 创建贡献记录提取器
func NewContributionExtractor(client *Client, logger *logrus.Logger) *ContributionExtractor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ContributionExtractor{client: client, logger: logger}
}

// Extract 让模型把对话中的贡献结构化为JSON并解析为记录
// JSON解析失败不视为错误：原始文本保留在记录里，ParseOK置false
func (e *ContributionExtractor) Extract(ctx context.Context, message string, history []models.Message) (*models.Contribution, error) {
	prompt := contributionPrompt + renderConversation(message, history)

	reply, err := e.client.Generate(ctx, "contribution", prompt)
	if err != nil {
		return nil, err
	}

	record := ParseContribution(reply)
	if !record.ParseOK {
		e.logger.WithField("reply_len", len(reply)).Warn("贡献回复JSON解析失败，保留原始文本")
	}
	return record, nil
}

// ParseContribution 从模型回复中提取第一个JSON对象
// 兼容代码块围栏和裸JSON，解析失败时返回仅含原始文本的记录
func ParseContribution(raw string) *models.Contribution {
	record := &models.Contribution{
		RawText:    raw,
		ReceivedAt: time.Now(),
	}

	jsonText := firstJSONObject(stripCodeFence(raw))
	if jsonText == "" {
		return record
	}

	var parsed struct {
		Contributor string          `json:"contributor"`
		Kind        string          `json:"kind"`
		Summary     string          `json:"summary"`
		Details     json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return record
	}

	record.Contributor = parsed.Contributor
	record.Kind = parsed.Kind
	record.Summary = parsed.Summary
	record.Details = decodeDetails(parsed.Details)
	record.ParseOK = true
	return record
}

// decodeDetails 模型给出的details可能是对象也可能是标量，标量包一层保留
func decodeDetails(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}

	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap
	}

	var asValue interface{}
	if err := json.Unmarshal(raw, &asValue); err != nil || asValue == nil {
		return nil
	}
	return map[string]interface{}{"text": asValue}
}

// firstJSONObject 按花括号配对截取文本中第一个完整的JSON对象
func firstJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
