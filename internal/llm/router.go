package llm

import (
	"context"
	"strings"

	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
)

// Router 意图路由器
type Router struct {
	client *Client
	logger *logrus.Logger
}

// NewRouter 创建意图路由器
func NewRouter(client *Client, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{client: client, logger: logger}
}

// Route 将用户消息路由到三种操作之一
// 模型回复做大小写不敏感的子串匹配，无法识别的回复回退到general
func (r *Router) Route(ctx context.Context, message string, history []models.Message) (string, error) {
	prompt := intentPrompt + renderConversation(message, history)

	reply, err := r.client.Generate(ctx, "intent", prompt)
	if err != nil {
		return "", err
	}

	operation := parseOperation(reply)
	r.logger.WithFields(logrus.Fields{
		"reply":     reply,
		"operation": operation,
	}).Debug("意图路由完成")

	return operation, nil
}

func parseOperation(reply string) string {
	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, models.OperationEscrow):
		return models.OperationEscrow
	case strings.Contains(lower, models.OperationContribute):
		return models.OperationContribute
	default:
		return models.OperationGeneral
	}
}
