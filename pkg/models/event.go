package models

import (
	"math/big"
	"time"
)

// 托管合约事件名称常量
const (
	EventDeposited   = "Deposited"
	EventPartySigned = "PartySigned"
	EventReleased    = "Released"
	EventRefunded    = "Refunded"
)

// ContractEvent 跟踪到的托管合约事件
type ContractEvent struct {
	ContractID      string    `json:"contract_id"`      // 关联的合约记录ID
	ContractAddress string    `json:"contract_address"` // 合约链上地址
	EventName       string    `json:"event_name"`       // Deposited/PartySigned/Released/Refunded
	Party           string    `json:"party,omitempty"`  // 事件涉及的参与方地址
	Amount          *big.Int  `json:"amount,omitempty"` // 涉及金额(wei)
	BlockNumber     uint64    `json:"block_number"`     // 所在区块号
	TxHash          string    `json:"tx_hash"`          // 所在交易哈希
	LogIndex        uint      `json:"log_index"`        // 日志下标
	Timestamp       time.Time `json:"timestamp"`        // 记录时间
}

// ToKafkaMessage 转换为Kafka消息格式
func (e *ContractEvent) ToKafkaMessage() map[string]interface{} {
	msg := map[string]interface{}{
		"contract_id":      e.ContractID,
		"contract_address": e.ContractAddress,
		"event_name":       e.EventName,
		"party":            e.Party,
		"block_number":     e.BlockNumber,
		"tx_hash":          e.TxHash,
		"log_index":        e.LogIndex,
		"timestamp":        e.Timestamp.Unix(),
	}
	if e.Amount != nil {
		msg["amount"] = e.Amount.String()
	}
	return msg
}

// NextStatus 根据事件推导合约记录的下一个状态
// 事件无法推进状态时返回空字符串
func (e *ContractEvent) NextStatus(current string) string {
	switch e.EventName {
	case EventDeposited:
		if current == StatusDeployed {
			return StatusActive
		}
	case EventReleased:
		return StatusReleased
	case EventRefunded:
		return StatusRefunded
	}
	return ""
}
