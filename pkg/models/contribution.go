package models

import (
	"time"
)

// Contribution 贡献记录
// 从模型回复中解析出的JSON对象，经由输出层落盘
type Contribution struct {
	Contributor string                 `json:"contributor,omitempty"` // 贡献者地址或昵称
	Kind        string                 `json:"kind,omitempty"`        // 贡献类型
	Summary     string                 `json:"summary,omitempty"`     // 摘要
	Details     map[string]interface{} `json:"details,omitempty"`     // 其余字段原样保留
	RawText     string                 `json:"raw_text,omitempty"`    // 解析失败时保留原始文本
	ParseOK     bool                   `json:"parse_ok"`              // JSON解析是否成功
	ReceivedAt  time.Time              `json:"received_at"`           // 接收时间
}

// ToKafkaMessage 转换为Kafka消息格式
func (c *Contribution) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"contributor": c.Contributor,
		"kind":        c.Kind,
		"summary":     c.Summary,
		"details":     c.Details,
		"raw_text":    c.RawText,
		"parse_ok":    c.ParseOK,
		"received_at": c.ReceivedAt.Unix(),
	}
}
