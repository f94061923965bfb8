package models

import (
	"strings"
)

// 消息角色常量
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 路由操作常量
const (
	OperationEscrow     = "escrow"
	OperationContribute = "contribute"
	OperationGeneral    = "general"
)

// Message 会话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 聊天请求（浏览器持有历史并随请求重发）
type ChatRequest struct {
	Message string    `json:"message"`
	History []Message `json:"history,omitempty"`
}

// ChatResult 聊天结果
type ChatResult struct {
	Operation     string          `json:"operation"`       // 本次路由到的操作
	Reply         string          `json:"reply"`           // 助手回复文本
	Template      *EscrowTemplate `json:"template,omitempty"`       // escrow操作选中的模板
	AdaptedSource string          `json:"adapted_source,omitempty"` // 生成通道改写后的合约源码
	Contribution  *Contribution   `json:"contribution,omitempty"`   // contribute操作解析出的记录
}

// IsValidRole 检查角色是否合法
func IsValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// SanitizeHistory 过滤非法历史消息
func SanitizeHistory(history []Message) []Message {
	cleaned := make([]Message, 0, len(history))
	for _, msg := range history {
		if !IsValidRole(msg.Role) {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		cleaned = append(cleaned, msg)
	}
	return cleaned
}
