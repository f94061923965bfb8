package models

// 托管模板类别常量
const (
	CategoryETH   = "eth"
	CategoryERC20 = "erc20"
	CategoryNFT   = "nft"
	CategoryCBTC  = "cbtc"
)

// EscrowTemplate 托管合约模板记录
// 启动时从静态数组加载，整个生命周期内不可变
type EscrowTemplate struct {
	Index       int    `json:"index"`       // 在目录中的下标
	Name        string `json:"name"`        // 合约名称
	Category    string `json:"category"`    // 模板类别 (eth/erc20/nft/cbtc)
	Description string `json:"description"` // 适用场景描述
	Source      string `json:"source"`      // Solidity源码
	ABIJSON     string `json:"abi"`         // ABI(JSON文本)
	Bytecode    string `json:"bytecode"`    // 部署字节码(hex字符串)
}

// TemplateSummary 模板摘要（列表接口使用，不携带源码与字节码）
type TemplateSummary struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Summary 生成模板摘要
func (t *EscrowTemplate) Summary() TemplateSummary {
	return TemplateSummary{
		Index:       t.Index,
		Name:        t.Name,
		Category:    t.Category,
		Description: t.Description,
	}
}

// IsValidCategory 检查模板类别是否合法
func IsValidCategory(category string) bool {
	switch category {
	case CategoryETH, CategoryERC20, CategoryNFT, CategoryCBTC:
		return true
	default:
		return false
	}
}
