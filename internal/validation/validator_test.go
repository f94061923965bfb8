package validation

import (
	"encoding/hex"
	"strings"
	"testing"

	"satcontracts/pkg/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&strings.Builder{})
	return logger
}

func validParties() []models.Party {
	return []models.Party{
		{Role: models.PartyBuyer, Address: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"},
		{Role: models.PartySeller, Address: "0x00000000219ab540356cBB839Cbe05303d7705Fa"},
		{Role: models.PartyArbiter, Address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"},
	}
}

func TestNewValidator(t *testing.T) {
	validator := NewValidator(quietLogger(), true)

	assert.NotNil(t, validator)
	assert.True(t, validator.strictMode)
	assert.Equal(t, 4, len(validator.rules)) // 默认注册的规则数量
}

func TestValidateContract(t *testing.T) {
	v := NewValidator(quietLogger(), false)

	valid := &models.DeployedContract{
		ID:          "rec-1",
		Name:        "ETH托管",
		Category:    models.CategoryETH,
		TemplateIdx: 0,
		ChainID:     11155111,
		Status:      models.StatusDraft,
		Parties:     validParties(),
	}
	result := v.ValidateContract(valid)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestValidateContractErrors(t *testing.T) {
	v := NewValidator(quietLogger(), false)

	tests := []struct {
		name     string
		mutate   func(*models.DeployedContract)
		wantCode string
	}{
		{
			name:     "empty name",
			mutate:   func(c *models.DeployedContract) { c.Name = " " },
			wantCode: "EMPTY_CONTRACT_NAME",
		},
		{
			name:     "bad category",
			mutate:   func(c *models.DeployedContract) { c.Category = "bonds" },
			wantCode: "INVALID_CATEGORY",
		},
		{
			name:     "negative template index",
			mutate:   func(c *models.DeployedContract) { c.TemplateIdx = -1 },
			wantCode: "INVALID_TEMPLATE_INDEX",
		},
		{
			name:     "zero chain id",
			mutate:   func(c *models.DeployedContract) { c.ChainID = 0 },
			wantCode: "INVALID_CHAIN_ID",
		},
		{
			name:     "bad status",
			mutate:   func(c *models.DeployedContract) { c.Status = "pending" },
			wantCode: "INVALID_STATUS",
		},
		{
			name:     "bad address",
			mutate:   func(c *models.DeployedContract) { c.Address = "0x1234" },
			wantCode: "INVALID_CONTRACT_ADDRESS",
		},
		{
			name:     "bad tx hash",
			mutate:   func(c *models.DeployedContract) { c.DeployTxHash = "0xzz" },
			wantCode: "INVALID_TX_HASH",
		},
		{
			name:     "missing seller",
			mutate:   func(c *models.DeployedContract) { c.Parties = c.Parties[:1] },
			wantCode: "TOO_FEW_PARTIES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contract := &models.DeployedContract{
				ID:          "rec-1",
				Name:        "托管",
				Category:    models.CategoryETH,
				TemplateIdx: 0,
				ChainID:     11155111,
				Status:      models.StatusDraft,
				Parties:     validParties(),
			}
			tt.mutate(contract)

			result := v.ValidateContract(contract)
			require.False(t, result.Valid)

			found := false
			for _, err := range result.Errors {
				if err.Code == tt.wantCode {
					found = true
				}
			}
			assert.True(t, found, "期望错误码%s，实际: %v", tt.wantCode, result.Errors)
		})
	}
}

func TestValidateContractNil(t *testing.T) {
	v := NewValidator(quietLogger(), false)
	result := v.ValidateContract(nil)
	assert.False(t, result.Valid)
}

func TestPartySetRule(t *testing.T) {
	rule := NewPartySetValidationRule()

	tests := []struct {
		name    string
		parties []models.Party
		wantErr bool
	}{
		{name: "buyer and seller", parties: validParties()[:2], wantErr: false},
		{name: "all three roles", parties: validParties(), wantErr: false},
		{name: "only buyer", parties: validParties()[:1], wantErr: true},
		{
			name: "duplicate role",
			parties: []models.Party{
				{Role: models.PartyBuyer, Address: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"},
				{Role: models.PartyBuyer, Address: "0x00000000219ab540356cBB839Cbe05303d7705Fa"},
			},
			wantErr: true,
		},
		{
			name: "duplicate address",
			parties: []models.Party{
				{Role: models.PartyBuyer, Address: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"},
				{Role: models.PartySeller, Address: "0xab5801a7d398351b8be11c439e05c5b3259aec9b"},
			},
			wantErr: true,
		},
		{
			name: "unknown role",
			parties: []models.Party{
				{Role: "witness", Address: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"},
				{Role: models.PartySeller, Address: "0x00000000219ab540356cBB839Cbe05303d7705Fa"},
			},
			wantErr: true,
		},
		{
			name: "bad address",
			parties: []models.Party{
				{Role: models.PartyBuyer, Address: "not-an-address"},
				{Role: models.PartySeller, Address: "0x00000000219ab540356cBB839Cbe05303d7705Fa"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.Validate(tt.parties)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddressAndHashRules(t *testing.T) {
	addrRule := NewAddressValidationRule()
	assert.NoError(t, addrRule.Validate("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"))
	assert.Error(t, addrRule.Validate("0x123"))
	assert.Error(t, addrRule.Validate(42))

	hashRule := NewHashValidationRule()
	assert.NoError(t, hashRule.Validate("0x"+strings.Repeat("ab", 32)))
	assert.Error(t, hashRule.Validate("0xab"))
}

func TestSignatureRule(t *testing.T) {
	rule := NewSignatureValidationRule()
	assert.NoError(t, rule.Validate("0x"+strings.Repeat("ab", 65)))
	assert.Error(t, rule.Validate("0xdeadbeef"))
	assert.Error(t, rule.Validate("ab"+strings.Repeat("cd", 65)))
}

func TestValidateTemplateIndex(t *testing.T) {
	v := NewValidator(quietLogger(), false)

	assert.NoError(t, v.ValidateTemplateIndex(0, 4))
	assert.NoError(t, v.ValidateTemplateIndex(3, 4))
	assert.Error(t, v.ValidateTemplateIndex(4, 4))
	assert.Error(t, v.ValidateTemplateIndex(-1, 4))
}

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// signMessage 用给定私钥做personal_sign，返回0x前缀hex签名和签名地址
func signMessage(t *testing.T, message string, keyHex string) (string, string) {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)

	hash := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)

	// 钱包一般返回v=27/28
	sig[64] += 27
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return "0x" + hex.EncodeToString(sig), address
}

func TestRecoverPersonalSigner(t *testing.T) {
	message := SigningMessage("rec-42")
	sigHex, address := signMessage(t, message, testKeyHex)

	recovered, err := RecoverPersonalSigner(message, sigHex)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(address, recovered))

	// 不同消息恢复出不同地址
	other, err := RecoverPersonalSigner(SigningMessage("rec-43"), sigHex)
	require.NoError(t, err)
	assert.False(t, strings.EqualFold(address, other))

	// 非法格式直接拒绝
	_, err = RecoverPersonalSigner(message, "0xdead")
	assert.Error(t, err)
}

func TestVerifyPartySignature(t *testing.T) {
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	contract := &models.DeployedContract{
		ID:       "rec-7",
		Category: models.CategoryETH,
		ChainID:  11155111,
		Parties: []models.Party{
			{Role: models.PartyBuyer, Address: signer},
			{Role: models.PartySeller, Address: "0x00000000219ab540356cBB839Cbe05303d7705Fa"},
		},
	}

	sigHex, _ := signMessage(t, SigningMessage(contract.ID), testKeyHex)

	// 正常验证
	require.NoError(t, VerifyPartySignature(contract, signer, sigHex))

	// 非参与方
	err = VerifyPartySignature(contract, "0x5FbDB2315678afecb367f032d93F642f64180aa3", sigHex)
	assert.Error(t, err)

	// 地址与签名不匹配
	err = VerifyPartySignature(contract, "0x00000000219ab540356cBB839Cbe05303d7705Fa", sigHex)
	assert.Error(t, err)

	// 重复签名
	contract.Signatures = append(contract.Signatures, models.PartySignature{Address: signer, Signature: sigHex})
	err = VerifyPartySignature(contract, signer, sigHex)
	assert.Error(t, err)
}
