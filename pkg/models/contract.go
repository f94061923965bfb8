package models

import (
	"strings"
	"time"
)

// 合约记录状态常量
const (
	StatusDraft    = "draft"    // 已创建记录，尚未上链
	StatusDeployed = "deployed" // 部署交易已确认
	StatusActive   = "active"   // 已收到存款，托管生效
	StatusReleased = "released" // 资金已释放给卖方
	StatusRefunded = "refunded" // 资金已退回买方
)

// 参与方角色常量
const (
	PartyBuyer   = "buyer"
	PartySeller  = "seller"
	PartyArbiter = "arbiter"
)

// Party 合约参与方
type Party struct {
	Role    string `json:"role"`    // buyer/seller/arbiter
	Address string `json:"address"` // 以太坊地址
}

// PartySignature 参与方签名记录
type PartySignature struct {
	Address   string    `json:"address"`   // 签名方地址
	Signature string    `json:"signature"` // EIP-191 personal_sign签名(hex)
	SignedAt  time.Time `json:"signed_at"` // 签名时间
}

// DeployedContract 已部署合约记录
type DeployedContract struct {
	ID           string           `json:"id"`                      // uuid
	Name         string           `json:"name"`                    // 展示名称
	Category     string           `json:"category"`                // 所用模板类别
	TemplateIdx  int              `json:"template_index"`          // 所用模板下标
	Address      string           `json:"address,omitempty"`       // 链上地址（部署后填充）
	ChainID      uint64           `json:"chain_id"`                // 链ID
	ABIJSON      string           `json:"abi"`                     // ABI快照
	Bytecode     string           `json:"bytecode"`                // 部署字节码快照
	Parties      []Party          `json:"parties"`                 // 参与方列表
	Signatures   []PartySignature `json:"signatures"`              // 已收集签名
	DeployTxHash string           `json:"deploy_tx_hash,omitempty"` // 部署交易哈希
	Status       string           `json:"status"`                  // 状态机当前状态
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// IsValidStatus 检查状态是否合法
func IsValidStatus(status string) bool {
	switch status {
	case StatusDraft, StatusDeployed, StatusActive, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

// PartyByAddress 根据地址查找参与方（地址比较不区分大小写）
func (c *DeployedContract) PartyByAddress(address string) *Party {
	for i := range c.Parties {
		if strings.EqualFold(c.Parties[i].Address, address) {
			return &c.Parties[i]
		}
	}
	return nil
}

// HasSigned 检查某地址是否已签名
func (c *DeployedContract) HasSigned(address string) bool {
	for _, sig := range c.Signatures {
		if strings.EqualFold(sig.Address, address) {
			return true
		}
	}
	return false
}

// AllPartiesSigned 检查是否所有参与方都已签名
func (c *DeployedContract) AllPartiesSigned() bool {
	if len(c.Parties) == 0 {
		return false
	}
	for _, party := range c.Parties {
		if !c.HasSigned(party.Address) {
			return false
		}
	}
	return true
}

// ContractListFilter 合约列表查询条件
type ContractListFilter struct {
	Party  string `json:"party,omitempty"`  // 按参与方地址过滤
	Status string `json:"status,omitempty"` // 按状态过滤
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}
