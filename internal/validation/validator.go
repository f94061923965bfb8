package validation

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"satcontracts/internal/errors"
	"satcontracts/pkg/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Validator 请求与记录验证器
type Validator struct {
	logger       *logrus.Logger
	strictMode   bool // 严格模式
	errorHandler *errors.ErrorHandler
	rules        map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Errors   []*errors.ContractError `json:"errors,omitempty"`
	Warnings []string                `json:"warnings,omitempty"`
	DataType string                  `json:"data_type"`
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:       logger,
		strictMode:   strictMode,
		errorHandler: errors.NewErrorHandler(logger),
		rules:        make(map[string]ValidationRule),
	}

	// 注册默认验证规则
	v.registerDefaultRules()

	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	// 地址验证规则
	v.AddRule(NewAddressValidationRule())

	// 哈希验证规则
	v.AddRule(NewHashValidationRule())

	// 签名格式验证规则
	v.AddRule(NewSignatureValidationRule())

	// 参与方集合验证规则
	v.AddRule(NewPartySetValidationRule())
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateContract 验证合约记录
func (v *Validator) ValidateContract(contract *models.DeployedContract) *ValidationResult {
	if contract == nil {
		return &ValidationResult{
			Valid:    false,
			Errors:   []*errors.ContractError{errors.ErrDataValidation.WithContext("reason", "合约记录为空")},
			DataType: "contract",
		}
	}

	result := &ValidationResult{
		Valid:    true,
		DataType: "contract",
		Errors:   make([]*errors.ContractError, 0),
		Warnings: make([]string, 0),
	}

	if strings.TrimSpace(contract.Name) == "" {
		v.appendError(result, contract, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_CONTRACT_NAME", "合约名称不能为空"))
	}

	if !models.IsValidCategory(contract.Category) {
		v.appendError(result, contract, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_CATEGORY", fmt.Sprintf("未知的模板类别: %s", contract.Category)))
	}

	if contract.TemplateIdx < 0 {
		v.appendError(result, contract, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_TEMPLATE_INDEX", "模板下标不能为负"))
	}

	if contract.ChainID == 0 {
		v.appendError(result, contract, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_CHAIN_ID", "链ID不能为0"))
	}

	if contract.Status != "" && !models.IsValidStatus(contract.Status) {
		v.appendError(result, contract, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_STATUS", fmt.Sprintf("非法的合约状态: %s", contract.Status)))
	}

	if contract.Address != "" && !isValidAddress(contract.Address) {
		v.appendError(result, contract, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_CONTRACT_ADDRESS", "合约地址格式无效"))
	}

	if contract.DeployTxHash != "" && !isValidHash(contract.DeployTxHash) {
		v.appendError(result, contract, errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_TX_HASH", "部署交易哈希格式无效"))
	}

	// 参与方集合规则
	if rule, exists := v.rules["party_set"]; exists {
		if err := rule.Validate(contract.Parties); err != nil {
			v.appendRuleError(result, contract, err)
		}
	}

	// 已收集签名的格式检查
	for i, sig := range contract.Signatures {
		if !isValidAddress(sig.Address) || sig.Address == "" {
			v.appendError(result, contract, errors.NewContractError(
				errors.ErrorTypeValidation, errors.SeverityHigh,
				"INVALID_SIGNER_ADDRESS", fmt.Sprintf("第%d条签名的地址格式无效", i)))
		}
		if !isValidSignature(sig.Signature) {
			v.appendError(result, contract, errors.NewContractError(
				errors.ErrorTypeValidation, errors.SeverityHigh,
				"INVALID_SIGNATURE_FORMAT", fmt.Sprintf("第%d条签名格式无效", i)))
		}
	}

	return result
}

func (v *Validator) appendError(result *ValidationResult, contract *models.DeployedContract, err *errors.ContractError) {
	result.Valid = false
	if contract.ID != "" {
		err = err.WithContractID(contract.ID)
	}
	v.errorHandler.Record(err)
	result.Errors = append(result.Errors, err)
}

func (v *Validator) appendRuleError(result *ValidationResult, contract *models.DeployedContract, err error) {
	var contractErr *errors.ContractError
	if errors.AsContractError(err, &contractErr) {
		v.appendError(result, contract, contractErr)
		return
	}
	v.appendError(result, contract, errors.WrapError(err,
		errors.ErrorTypeValidation, errors.SeverityMedium,
		"CONTRACT_RULE_VALIDATION_FAILED", "合约规则验证失败"))
}

// ValidateTemplateIndex 验证模板下标是否落在目录范围内
func (v *Validator) ValidateTemplateIndex(index, count int) error {
	if index < 0 || index >= count {
		return errors.NewContractError(
			errors.ErrorTypeTemplateSelection, errors.SeverityMedium,
			"TEMPLATE_INDEX_OUT_OF_RANGE",
			fmt.Sprintf("模板下标%d超出目录范围(共%d个)", index, count))
	}
	return nil
}

// SigningMessage 参与方签名时的固定消息文本
// 浏览器端用personal_sign对同一文本签名
func SigningMessage(contractID string) string {
	return fmt.Sprintf("SatContracts escrow agreement: %s", contractID)
}

// VerifyPartySignature 验证EIP-191 personal_sign签名
// 消息按合约ID构造，恢复出的地址必须与声明方一致
func VerifyPartySignature(contract *models.DeployedContract, signerAddress, signatureHex string) error {
	party := contract.PartyByAddress(signerAddress)
	if party == nil {
		return errors.NewContractError(
			errors.ErrorTypeInvalidSignature, errors.SeverityMedium,
			"NOT_A_PARTY", "签名地址不是合约参与方").WithContractID(contract.ID)
	}

	if contract.HasSigned(signerAddress) {
		return errors.NewContractError(
			errors.ErrorTypeValidation, errors.SeverityLow,
			"ALREADY_SIGNED", "该参与方已签名").WithContractID(contract.ID)
	}

	recovered, err := RecoverPersonalSigner(SigningMessage(contract.ID), signatureHex)
	if err != nil {
		return err
	}

	if !strings.EqualFold(recovered, signerAddress) {
		return errors.NewContractError(
			errors.ErrorTypeInvalidSignature, errors.SeverityHigh,
			"SIGNATURE_MISMATCH", "签名恢复出的地址与声明方不一致").WithContractID(contract.ID)
	}

	return nil
}

// RecoverPersonalSigner 从personal_sign签名中恢复签名地址
func RecoverPersonalSigner(message, signatureHex string) (string, error) {
	if !isValidSignature(signatureHex) {
		return "", errors.NewContractError(
			errors.ErrorTypeInvalidSignature, errors.SeverityHigh,
			"INVALID_SIGNATURE_FORMAT", "签名格式无效")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return "", errors.WrapError(err,
			errors.ErrorTypeInvalidSignature, errors.SeverityHigh,
			"INVALID_SIGNATURE_HEX", "签名不是合法的hex")
	}

	// personal_sign的v值可能是27/28
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", errors.WrapError(err,
			errors.ErrorTypeInvalidSignature, errors.SeverityHigh,
			"SIGNATURE_RECOVERY_FAILED", "签名恢复失败")
	}

	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	if len(hash) != 66 { // 0x + 64 hex chars
		return false
	}
	if !strings.HasPrefix(hash, "0x") {
		return false
	}

	hashRegex := regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	return hashRegex.MatchString(hash)
}

// isValidAddress 验证地址格式
func isValidAddress(addr string) bool {
	if addr == "" {
		return true // 空地址在某些情况下是有效的
	}

	if !strings.HasPrefix(addr, "0x") {
		return false
	}

	return common.IsHexAddress(addr)
}

// isValidSignature 验证personal_sign签名格式（0x + 65字节hex）
func isValidSignature(sig string) bool {
	if len(sig) != 132 {
		return false
	}
	if !strings.HasPrefix(sig, "0x") {
		return false
	}

	sigRegex := regexp.MustCompile("^0x[0-9a-fA-F]{130}$")
	return sigRegex.MatchString(sig)
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidAddress(addr) {
		return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_ADDRESS_FORMAT", "地址格式无效")
	}

	return nil
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

func NewHashValidationRule() *HashValidationRule {
	return &HashValidationRule{}
}

func (r *HashValidationRule) Name() string {
	return "hash"
}

func (r *HashValidationRule) Description() string {
	return "哈希值验证规则"
}

func (r *HashValidationRule) Validate(data interface{}) error {
	hash, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidHash(hash) {
		return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_HASH_FORMAT", "哈希格式无效")
	}

	return nil
}

// SignatureValidationRule 签名格式验证规则
type SignatureValidationRule struct{}

func NewSignatureValidationRule() *SignatureValidationRule {
	return &SignatureValidationRule{}
}

func (r *SignatureValidationRule) Name() string {
	return "signature"
}

func (r *SignatureValidationRule) Description() string {
	return "personal_sign签名格式验证规则"
}

func (r *SignatureValidationRule) Validate(data interface{}) error {
	sig, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidSignature(sig) {
		return errors.NewContractError(errors.ErrorTypeInvalidSignature, errors.SeverityHigh,
			"INVALID_SIGNATURE_FORMAT", "签名格式无效")
	}

	return nil
}

// PartySetValidationRule 参与方集合验证规则
type PartySetValidationRule struct{}

func NewPartySetValidationRule() *PartySetValidationRule {
	return &PartySetValidationRule{}
}

func (r *PartySetValidationRule) Name() string {
	return "party_set"
}

func (r *PartySetValidationRule) Description() string {
	return "托管参与方集合验证规则"
}

func (r *PartySetValidationRule) Validate(data interface{}) error {
	parties, ok := data.([]models.Party)
	if !ok {
		return fmt.Errorf("数据类型不是参与方列表")
	}

	if len(parties) < 2 {
		return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"TOO_FEW_PARTIES", "托管至少需要买卖双方")
	}

	seenRoles := make(map[string]bool)
	seenAddrs := make(map[string]bool)
	for _, party := range parties {
		switch party.Role {
		case models.PartyBuyer, models.PartySeller, models.PartyArbiter:
		default:
			return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
				"UNKNOWN_PARTY_ROLE", fmt.Sprintf("未知的参与方角色: %s", party.Role))
		}

		if seenRoles[party.Role] {
			return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
				"DUPLICATE_PARTY_ROLE", fmt.Sprintf("参与方角色重复: %s", party.Role))
		}
		seenRoles[party.Role] = true

		if party.Address == "" || !isValidAddress(party.Address) {
			return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"INVALID_PARTY_ADDRESS", fmt.Sprintf("参与方%s的地址格式无效", party.Role))
		}

		addrKey := strings.ToLower(party.Address)
		if seenAddrs[addrKey] {
			return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
				"DUPLICATE_PARTY_ADDRESS", "参与方地址重复")
		}
		seenAddrs[addrKey] = true
	}

	if !seenRoles[models.PartyBuyer] || !seenRoles[models.PartySeller] {
		return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"MISSING_CORE_PARTY", "缺少买方或卖方")
	}

	return nil
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
		"error_stats":      v.errorHandler.GetStats(),
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}
