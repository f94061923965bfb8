package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/config"
	"satcontracts/internal/connection"
	"satcontracts/internal/errors"
	"satcontracts/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// erc20ABI 查询余额所需的最小ERC20接口
const erc20ABI = `[
  {"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

const (
	// 部署交易gas估算失败时的兜底上限
	fallbackDeployGas = 3_000_000

	receiptPollInterval = 3 * time.Second
	receiptMaxAttempts  = 40
)

// DeployRequest 部署载荷组装请求
// 部署交易由浏览器端钱包签名提交，服务端只负责组装calldata
type DeployRequest struct {
	TemplateIdx  int      `json:"template_index"`
	Deployer     string   `json:"deployer"`                // 买方地址，作为from估算gas
	Seller       string   `json:"seller"`                  // 卖方地址
	Arbiter      string   `json:"arbiter"`                 // 仲裁方地址
	TokenAddress string   `json:"token_address,omitempty"` // erc20/nft/cbtc模板需要
	TokenID      *big.Int `json:"token_id,omitempty"`      // nft模板需要
}

// Gateway 链上只读网关：部署载荷组装、回执查询、资产查询
type Gateway struct {
	pool      *connection.Pool
	catalogue *catalogue.Catalogue
	chainID   uint64
	tokenABI  abi.ABI
	logger    *logrus.Logger
}

// NewGateway 创建链上网关
func NewGateway(cfg *config.BlockchainConfig, cat *catalogue.Catalogue, logger *logrus.Logger) (*Gateway, error) {
	if cfg == nil || len(cfg.Nodes) == 0 {
		return nil, errors.NewContractError(errors.ErrorTypeConfig, errors.SeverityCritical,
			"BLOCKCHAIN_CONFIG_MISSING", "缺少区块链节点配置")
	}
	if logger == nil {
		logger = logrus.New()
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfig, errors.SeverityCritical,
			"ERC20_ABI_INVALID", "ERC20接口定义解析失败")
	}

	pool := connection.NewPool(cfg.Nodes, logger)
	if err := pool.Initialize(); err != nil {
		return nil, err
	}

	return &Gateway{
		pool:      pool,
		catalogue: cat,
		chainID:   uint64(cfg.ChainID),
		tokenABI:  parsed,
		logger:    logger,
	}, nil
}

// ChainID 网关所在链ID
func (g *Gateway) ChainID() uint64 {
	return g.chainID
}

// Stats 底层连接池统计
func (g *Gateway) Stats() map[string]interface{} {
	return g.pool.GetStats()
}

// Close 关闭网关
func (g *Gateway) Close() error {
	return g.pool.Close()
}

// PrepareDeploy 组装未签名的部署载荷
// calldata = 模板字节码 + ABI编码的构造参数
func (g *Gateway) PrepareDeploy(ctx context.Context, req *DeployRequest) (*models.DeployPayload, error) {
	if req == nil {
		return nil, errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityLow,
			"EMPTY_DEPLOY_REQUEST", "部署请求不能为空")
	}

	tmpl, err := g.catalogue.Get(req.TemplateIdx)
	if err != nil {
		return nil, err
	}
	parsed, err := g.catalogue.ABI(req.TemplateIdx)
	if err != nil {
		return nil, err
	}

	args, err := g.constructorArgs(tmpl.Category, req)
	if err != nil {
		return nil, err
	}

	packed, err := parsed.Pack("", args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeBlockchain, errors.SeverityMedium,
			"CONSTRUCTOR_PACK_FAILED", "构造参数编码失败")
	}

	bytecode, err := hexutil.Decode(tmpl.Bytecode)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeData, errors.SeverityHigh,
			"TEMPLATE_BYTECODE_INVALID", fmt.Sprintf("模板 %s 字节码无效", tmpl.Name))
	}

	data := append(bytecode, packed...)
	gasLimit := g.estimateDeployGas(ctx, req.Deployer, data)

	g.logger.WithFields(logrus.Fields{
		"template":  tmpl.Name,
		"gas_limit": gasLimit,
	}).Info("部署载荷已组装")

	return &models.DeployPayload{
		Data:     hexutil.Encode(data),
		Value:    big.NewInt(0),
		GasLimit: gasLimit,
		ChainID:  g.chainID,
	}, nil
}

// constructorArgs 按模板类别组装构造参数
func (g *Gateway) constructorArgs(category string, req *DeployRequest) ([]interface{}, error) {
	if !common.IsHexAddress(req.Seller) || !common.IsHexAddress(req.Arbiter) {
		return nil, errors.NewContractError(errors.ErrorTypeInvalidAddress, errors.SeverityLow,
			"INVALID_PARTY_ADDRESS", "卖方或仲裁方地址无效")
	}
	seller := common.HexToAddress(req.Seller)
	arbiter := common.HexToAddress(req.Arbiter)

	switch category {
	case models.CategoryETH:
		return []interface{}{seller, arbiter}, nil
	case models.CategoryERC20, models.CategoryCBTC:
		if !common.IsHexAddress(req.TokenAddress) {
			return nil, errors.NewContractError(errors.ErrorTypeInvalidAddress, errors.SeverityLow,
				"INVALID_TOKEN_ADDRESS", "代币合约地址无效")
		}
		return []interface{}{seller, arbiter, common.HexToAddress(req.TokenAddress)}, nil
	case models.CategoryNFT:
		if !common.IsHexAddress(req.TokenAddress) {
			return nil, errors.NewContractError(errors.ErrorTypeInvalidAddress, errors.SeverityLow,
				"INVALID_TOKEN_ADDRESS", "NFT合约地址无效")
		}
		if req.TokenID == nil {
			return nil, errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityLow,
				"MISSING_TOKEN_ID", "NFT模板需要token_id")
		}
		return []interface{}{seller, arbiter, common.HexToAddress(req.TokenAddress), req.TokenID}, nil
	default:
		return nil, errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"UNKNOWN_TEMPLATE_CATEGORY", fmt.Sprintf("未知模板类别: %s", category))
	}
}

// estimateDeployGas 估算部署gas，失败时使用兜底值
func (g *Gateway) estimateDeployGas(ctx context.Context, deployer string, data []byte) uint64 {
	lease, err := g.pool.Acquire()
	if err != nil {
		g.logger.Warnf("gas估算获取连接失败，使用兜底值: %v", err)
		return fallbackDeployGas
	}
	defer lease.Release()

	msg := ethereum.CallMsg{Data: data}
	if common.IsHexAddress(deployer) {
		msg.From = common.HexToAddress(deployer)
	}

	gas, err := lease.Client().EstimateGas(ctx, msg)
	if err != nil {
		g.logger.Warnf("gas估算失败，使用兜底值: %v", err)
		return fallbackDeployGas
	}

	// 留20%余量
	return gas + gas/5
}

// WaitReceipt 轮询交易回执，交易未确认时有界重试
func (g *Gateway) WaitReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if !strings.HasPrefix(txHash, "0x") || len(txHash) != 66 {
		return nil, errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityLow,
			"INVALID_TX_HASH", "交易哈希格式无效").WithTxHash(txHash)
	}
	hash := common.HexToHash(txHash)

	for attempt := 0; attempt < receiptMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.WrapError(ctx.Err(), errors.ErrorTypeTimeout, errors.SeverityMedium,
					"RECEIPT_WAIT_CANCELLED", "等待回执被取消").WithTxHash(txHash)
			case <-time.After(receiptPollInterval):
			}
		}

		receipt, err := g.fetchReceipt(ctx, hash)
		if err != nil {
			if err == ethereum.NotFound {
				continue
			}
			g.logger.Debugf("查询回执失败: %v", err)
			continue
		}
		return receipt, nil
	}

	return nil, errors.NewContractError(errors.ErrorTypeTimeout, errors.SeverityMedium,
		"RECEIPT_TIMEOUT", "等待交易回执超时").WithTxHash(txHash)
}

func (g *Gateway) fetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	lease, err := g.pool.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	return lease.Client().TransactionReceipt(ctx, hash)
}

// ConfirmDeployment 等待部署交易确认并返回合约地址
func (g *Gateway) ConfirmDeployment(ctx context.Context, txHash string) (string, error) {
	receipt, err := g.WaitReceipt(ctx, txHash)
	if err != nil {
		return "", err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", errors.NewContractError(errors.ErrorTypeTxFailed, errors.SeverityHigh,
			"DEPLOY_TX_REVERTED", "部署交易执行失败").WithTxHash(txHash)
	}
	if receipt.ContractAddress == (common.Address{}) {
		return "", errors.NewContractError(errors.ErrorTypeBlockchain, errors.SeverityHigh,
			"NO_CONTRACT_ADDRESS", "回执中没有合约地址").WithTxHash(txHash)
	}

	address := receipt.ContractAddress.Hex()
	g.logger.WithFields(logrus.Fields{
		"tx_hash": txHash,
		"address": address,
		"block":   receipt.BlockNumber.Uint64(),
	}).Info("部署交易已确认")

	return address, nil
}

// Portfolio 查询地址的ETH余额与给定ERC20代币余额
func (g *Gateway) Portfolio(ctx context.Context, address string, tokens []string) (*models.Portfolio, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.NewContractError(errors.ErrorTypeInvalidAddress, errors.SeverityLow,
			"INVALID_ADDRESS", "查询地址无效")
	}
	account := common.HexToAddress(address)

	lease, err := g.pool.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	client := lease.Client()

	ethBalance, err := client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeBlockchain, errors.SeverityMedium,
			"BALANCE_QUERY_FAILED", "查询ETH余额失败")
	}

	portfolio := &models.Portfolio{
		Address:    account.Hex(),
		ETHBalance: ethBalance,
		Tokens:     make([]models.TokenBalance, 0, len(tokens)),
		ChainID:    g.chainID,
	}

	for _, token := range tokens {
		if !common.IsHexAddress(token) {
			g.logger.Warnf("跳过无效的代币地址: %s", token)
			continue
		}
		balance, err := g.tokenBalance(ctx, client, common.HexToAddress(token), account)
		if err != nil {
			// 单个代币查询失败不影响整体结果
			g.logger.Warnf("查询代币 %s 余额失败: %v", token, err)
			continue
		}
		portfolio.Tokens = append(portfolio.Tokens, *balance)
	}

	return portfolio, nil
}

// tokenBalance 查询单个ERC20代币的余额与元信息
func (g *Gateway) tokenBalance(ctx context.Context, client *ethclient.Client, token, account common.Address) (*models.TokenBalance, error) {
	balance := new(big.Int)
	if err := g.callToken(ctx, client, token, "balanceOf", &balance, account); err != nil {
		return nil, err
	}

	result := &models.TokenBalance{
		Token:   token.Hex(),
		Balance: balance,
	}

	// symbol和decimals查询失败时保留零值
	var symbol string
	if err := g.callToken(ctx, client, token, "symbol", &symbol); err == nil {
		result.Symbol = symbol
	}
	var decimals uint8
	if err := g.callToken(ctx, client, token, "decimals", &decimals); err == nil {
		result.Decimals = decimals
	}

	return result, nil
}

// callToken 执行一次ERC20只读调用并解码结果
func (g *Gateway) callToken(ctx context.Context, client *ethclient.Client, token common.Address, method string, out interface{}, args ...interface{}) error {
	input, err := g.tokenABI.Pack(method, args...)
	if err != nil {
		return err
	}

	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return err
	}

	return g.tokenABI.UnpackIntoInterface(out, method, raw)
}
