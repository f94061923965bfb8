package models

import (
	"math/big"
)

// TokenBalance ERC20代币余额
type TokenBalance struct {
	Token    string   `json:"token"`    // 代币合约地址
	Symbol   string   `json:"symbol"`   // 代币符号
	Decimals uint8    `json:"decimals"` // 小数位数
	Balance  *big.Int `json:"balance"`  // 余额(最小单位)
}

// Portfolio 地址资产概览（UI余额组件读取）
type Portfolio struct {
	Address    string         `json:"address"`
	ETHBalance *big.Int       `json:"eth_balance"` // ETH余额(wei)
	Tokens     []TokenBalance `json:"tokens"`
	ChainID    uint64         `json:"chain_id"`
}

// DeployPayload 未签名的部署载荷
// 由服务端组装，交给浏览器钱包签名并提交
type DeployPayload struct {
	Data     string   `json:"data"`      // 字节码+构造参数(hex)
	Value    *big.Int `json:"value"`     // 随部署附带的ETH(wei)
	GasLimit uint64   `json:"gas_limit"` // 估算的gas上限
	ChainID  uint64   `json:"chain_id"`
}
