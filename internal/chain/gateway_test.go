package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/config"
	"satcontracts/internal/connection"
	"satcontracts/internal/errors"
	"satcontracts/pkg/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSeller  = "0x2222222222222222222222222222222222222222"
	testArbiter = "0x3333333333333333333333333333333333333333"
	testToken   = "0x4444444444444444444444444444444444444444"
	testBuyer   = "0x1111111111111111111111111111111111111111"
)

var emptyBloom = "0x" + strings.Repeat("0", 512)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newRPCServer 启动一个按方法名路由的假JSON-RPC节点
func newRPCServer(t *testing.T, handlers map[string]func(params []json.RawMessage) interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := handlers[req.Method]
		if !ok {
			t.Fatalf("没有为方法 %s 注册处理器", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handler(req.Params),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func defaultHandlers() map[string]func(params []json.RawMessage) interface{} {
	return map[string]func(params []json.RawMessage) interface{}{
		"eth_chainId": func([]json.RawMessage) interface{} { return "0xaa36a7" },
	}
}

func newTestGateway(t *testing.T, handlers map[string]func(params []json.RawMessage) interface{}) *Gateway {
	t.Helper()
	server := newRPCServer(t, handlers)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cat, err := catalogue.New(logger)
	require.NoError(t, err)

	gateway, err := NewGateway(&config.BlockchainConfig{
		Nodes: []*config.NodeConfig{
			{Name: "test_node", URL: server.URL, Type: "full", Priority: 1},
		},
		ChainID: 11155111,
	}, cat, logger)
	require.NoError(t, err)
	t.Cleanup(func() { gateway.Close() })
	return gateway
}

func TestPrepareDeployEth(t *testing.T) {
	handlers := defaultHandlers()
	handlers["eth_estimateGas"] = func([]json.RawMessage) interface{} { return "0x30000" }
	gateway := newTestGateway(t, handlers)

	payload, err := gateway.PrepareDeploy(context.Background(), &DeployRequest{
		TemplateIdx: 0,
		Deployer:    testBuyer,
		Seller:      testSeller,
		Arbiter:     testArbiter,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(11155111), payload.ChainID)
	assert.True(t, strings.HasPrefix(payload.Data, "0x"))
	// 0x30000 = 196608，加20%余量
	assert.Equal(t, uint64(196608+196608/5), payload.GasLimit)
	// calldata尾部是ABI编码的构造参数
	assert.Contains(t, strings.ToLower(payload.Data), strings.TrimPrefix(testSeller, "0x"))
	assert.Contains(t, strings.ToLower(payload.Data), strings.TrimPrefix(testArbiter, "0x"))
	assert.Equal(t, int64(0), payload.Value.Int64())
}

func TestPrepareDeployGasFallback(t *testing.T) {
	// 节点返回无法解析的估算结果时使用兜底gas
	server := newRPCServer(t, map[string]func(params []json.RawMessage) interface{}{
		"eth_chainId": func([]json.RawMessage) interface{} { return "0xaa36a7" },
		"eth_estimateGas": func([]json.RawMessage) interface{} {
			return "zz"
		},
	})

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cat, err := catalogue.New(logger)
	require.NoError(t, err)

	gateway, err := NewGateway(&config.BlockchainConfig{
		Nodes:   []*config.NodeConfig{{Name: "n", URL: server.URL, Priority: 1}},
		ChainID: 11155111,
	}, cat, logger)
	require.NoError(t, err)
	defer gateway.Close()

	payload, err := gateway.PrepareDeploy(context.Background(), &DeployRequest{
		TemplateIdx: 0,
		Deployer:    testBuyer,
		Seller:      testSeller,
		Arbiter:     testArbiter,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(fallbackDeployGas), payload.GasLimit)
}

func TestConstructorArgs(t *testing.T) {
	gateway := &Gateway{logger: logrus.New()}

	tests := []struct {
		name     string
		category string
		req      *DeployRequest
		wantLen  int
		wantCode string
	}{
		{
			name:     "eth模板",
			category: models.CategoryETH,
			req:      &DeployRequest{Seller: testSeller, Arbiter: testArbiter},
			wantLen:  2,
		},
		{
			name:     "erc20模板",
			category: models.CategoryERC20,
			req:      &DeployRequest{Seller: testSeller, Arbiter: testArbiter, TokenAddress: testToken},
			wantLen:  3,
		},
		{
			name:     "nft模板",
			category: models.CategoryNFT,
			req:      &DeployRequest{Seller: testSeller, Arbiter: testArbiter, TokenAddress: testToken, TokenID: big.NewInt(7)},
			wantLen:  4,
		},
		{
			name:     "cbtc模板",
			category: models.CategoryCBTC,
			req:      &DeployRequest{Seller: testSeller, Arbiter: testArbiter, TokenAddress: testToken},
			wantLen:  3,
		},
		{
			name:     "卖方地址无效",
			category: models.CategoryETH,
			req:      &DeployRequest{Seller: "not-an-address", Arbiter: testArbiter},
			wantCode: "INVALID_PARTY_ADDRESS",
		},
		{
			name:     "erc20缺少代币地址",
			category: models.CategoryERC20,
			req:      &DeployRequest{Seller: testSeller, Arbiter: testArbiter},
			wantCode: "INVALID_TOKEN_ADDRESS",
		},
		{
			name:     "nft缺少token_id",
			category: models.CategoryNFT,
			req:      &DeployRequest{Seller: testSeller, Arbiter: testArbiter, TokenAddress: testToken},
			wantCode: "MISSING_TOKEN_ID",
		},
		{
			name:     "未知类别",
			category: "bond",
			req:      &DeployRequest{Seller: testSeller, Arbiter: testArbiter},
			wantCode: "UNKNOWN_TEMPLATE_CATEGORY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := gateway.constructorArgs(tt.category, tt.req)
			if tt.wantCode != "" {
				require.Error(t, err)
				var contractErr *errors.ContractError
				require.True(t, errors.AsContractError(err, &contractErr))
				assert.Equal(t, tt.wantCode, contractErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Len(t, args, tt.wantLen)
		})
	}
}

func TestConfirmDeployment(t *testing.T) {
	txHash := "0x" + strings.Repeat("ab", 32)
	deployedAt := "0x5555555555555555555555555555555555555555"

	handlers := defaultHandlers()
	handlers["eth_getTransactionReceipt"] = func([]json.RawMessage) interface{} {
		return map[string]interface{}{
			"status":            "0x1",
			"cumulativeGasUsed": "0x5208",
			"logsBloom":         emptyBloom,
			"logs":              []interface{}{},
			"transactionHash":   txHash,
			"contractAddress":   deployedAt,
			"gasUsed":           "0x5208",
			"blockHash":         "0x" + strings.Repeat("cd", 32),
			"blockNumber":       "0x10",
			"transactionIndex":  "0x0",
		}
	}
	gateway := newTestGateway(t, handlers)

	address, err := gateway.ConfirmDeployment(context.Background(), txHash)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(deployedAt, address))
}

func TestConfirmDeploymentReverted(t *testing.T) {
	txHash := "0x" + strings.Repeat("ab", 32)

	handlers := defaultHandlers()
	handlers["eth_getTransactionReceipt"] = func([]json.RawMessage) interface{} {
		return map[string]interface{}{
			"status":            "0x0",
			"cumulativeGasUsed": "0x5208",
			"logsBloom":         emptyBloom,
			"logs":              []interface{}{},
			"transactionHash":   txHash,
			"gasUsed":           "0x5208",
			"blockHash":         "0x" + strings.Repeat("cd", 32),
			"blockNumber":       "0x10",
			"transactionIndex":  "0x0",
		}
	}
	gateway := newTestGateway(t, handlers)

	_, err := gateway.ConfirmDeployment(context.Background(), txHash)
	require.Error(t, err)

	var contractErr *errors.ContractError
	require.True(t, errors.AsContractError(err, &contractErr))
	assert.Equal(t, "DEPLOY_TX_REVERTED", contractErr.Code)
}

func TestWaitReceiptInvalidHash(t *testing.T) {
	gateway := &Gateway{logger: logrus.New()}

	_, err := gateway.WaitReceipt(context.Background(), "0x1234")
	require.Error(t, err)

	var contractErr *errors.ContractError
	require.True(t, errors.AsContractError(err, &contractErr))
	assert.Equal(t, "INVALID_TX_HASH", contractErr.Code)
}

func TestPortfolio(t *testing.T) {
	handlers := defaultHandlers()
	handlers["eth_getBalance"] = func([]json.RawMessage) interface{} {
		return "0xde0b6b3a7640000" // 1 ETH
	}
	handlers["eth_call"] = func(params []json.RawMessage) interface{} {
		var call struct {
			Data string `json:"input"`
		}
		require.NoError(t, json.Unmarshal(params[0], &call))

		switch {
		case strings.HasPrefix(call.Data, "0x70a08231"): // balanceOf
			return "0x" + strings.Repeat("0", 63) + "5"
		case strings.HasPrefix(call.Data, "0x95d89b41"): // symbol
			return encodeStringReturn("SAT")
		case strings.HasPrefix(call.Data, "0x313ce567"): // decimals
			return "0x" + strings.Repeat("0", 62) + "12"
		}
		return "0x"
	}
	gateway := newTestGateway(t, handlers)

	portfolio, err := gateway.Portfolio(context.Background(), testBuyer, []string{testToken, "bad-token"})
	require.NoError(t, err)

	assert.Equal(t, "1000000000000000000", portfolio.ETHBalance.String())
	assert.Equal(t, uint64(11155111), portfolio.ChainID)
	require.Len(t, portfolio.Tokens, 1)
	assert.Equal(t, "5", portfolio.Tokens[0].Balance.String())
	assert.Equal(t, "SAT", portfolio.Tokens[0].Symbol)
	assert.Equal(t, uint8(0x12), portfolio.Tokens[0].Decimals)
}

func TestPortfolioInvalidAddress(t *testing.T) {
	gateway := &Gateway{logger: logrus.New(), pool: connection.NewPool(nil, logrus.New())}

	_, err := gateway.Portfolio(context.Background(), "nope", nil)
	require.Error(t, err)
}

// encodeStringReturn 按ABI编码单个string返回值
func encodeStringReturn(s string) string {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(s)
	return "0x" + hex.EncodeToString(packed)
}
