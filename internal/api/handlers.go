package api

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"satcontracts/internal/chain"
	"satcontracts/internal/compile"
	"satcontracts/internal/validation"
	"satcontracts/internal/verify"
	"satcontracts/pkg/models"
)

// handleChat 处理一次会话请求
func (s *Server) handleChat(c *gin.Context) {
	if s.deps.Pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "CHAT_DISABLED",
			"message": "未配置LLM服务",
		})
		return
	}

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	result, err := s.deps.Pipeline.Handle(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// listTemplates 列出模板目录
func (s *Server) listTemplates(c *gin.Context) {
	if category := c.Query("category"); category != "" {
		templates := s.deps.Catalogue.ByCategory(category)
		c.JSON(http.StatusOK, gin.H{
			"templates": templates,
			"count":     len(templates),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"templates": s.deps.Catalogue.List(),
		"count":     s.deps.Catalogue.Count(),
	})
}

// getTemplate 获取单个模板（含源码和ABI）
func (s *Server) getTemplate(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_TEMPLATE_INDEX",
			"message": "模板下标必须是整数",
		})
		return
	}

	template, err := s.deps.Catalogue.Get(index)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, template)
}

// createContractRequest 创建合约记录的请求体
type createContractRequest struct {
	Name        string         `json:"name"`
	TemplateIdx int            `json:"template_index"`
	Parties     []models.Party `json:"parties" binding:"required"`
}

// createContract 基于模板创建草稿状态的合约记录
func (s *Server) createContract(c *gin.Context) {
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	template, err := s.deps.Catalogue.Get(req.TemplateIdx)
	if err != nil {
		s.writeError(c, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = template.Name
	}

	now := time.Now()
	contract := &models.DeployedContract{
		ID:          uuid.New().String(),
		Name:        name,
		Category:    template.Category,
		TemplateIdx: template.Index,
		ChainID:     uint64(s.config.Blockchain.ChainID),
		ABIJSON:     template.ABIJSON,
		Bytecode:    template.Bytecode,
		Parties:     req.Parties,
		Signatures:  []models.PartySignature{},
		Status:      models.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if result := s.deps.Validator.ValidateContract(contract); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "CONTRACT_INVALID",
			"message": "合约记录验证未通过",
			"details": result.Errors,
		})
		return
	}

	if err := s.deps.Store.Create(c.Request.Context(), contract); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, contract)
}

// listContracts 按条件查询合约记录
func (s *Server) listContracts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	filter := &models.ContractListFilter{
		Party:  c.Query("party"),
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	}

	contracts, err := s.deps.Store.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contracts": contracts,
		"count":     len(contracts),
	})
}

// getContract 获取单个合约记录
func (s *Server) getContract(c *gin.Context) {
	contract, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// updateContractRequest 更新合约记录的请求体
// 只有草稿状态的记录可以修改名称和参与方
type updateContractRequest struct {
	Name    string         `json:"name"`
	Parties []models.Party `json:"parties"`
}

// updateContract 更新草稿状态的合约记录
func (s *Server) updateContract(c *gin.Context) {
	var req updateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	contract, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if contract.Status != models.StatusDraft {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "NOT_A_DRAFT",
			"message": "部署流程开始后的记录不能修改",
		})
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		contract.Name = name
	}
	if len(req.Parties) > 0 {
		if len(contract.Signatures) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "SIGNATURES_PRESENT",
				"message": "已收集签名的记录不能更换参与方",
			})
			return
		}
		contract.Parties = req.Parties
	}

	if result := s.deps.Validator.ValidateContract(contract); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "CONTRACT_INVALID",
			"message": "合约记录验证未通过",
			"details": result.Errors,
		})
		return
	}

	if err := s.deps.Store.Update(c.Request.Context(), contract); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// deleteContract 删除合约记录
func (s *Server) deleteContract(c *gin.Context) {
	if err := s.deps.Store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "合约记录已删除",
	})
}

// addSignatureRequest 提交参与方签名的请求体
type addSignatureRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// addSignature 校验并记录参与方签名
func (s *Server) addSignature(c *gin.Context) {
	var req addSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	contract, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := validation.VerifyPartySignature(contract, req.Address, req.Signature); err != nil {
		s.writeError(c, err)
		return
	}

	updated, err := s.deps.Store.AddSignature(c.Request.Context(), contract.ID, models.PartySignature{
		Address:   req.Address,
		Signature: req.Signature,
		SignedAt:  time.Now(),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract":   updated,
		"all_signed": updated.AllPartiesSigned(),
	})
}

// deployPayloadRequest 组装部署载荷的请求体
// 代币类模板需携带代币地址，NFT模板还需tokenId
type deployPayloadRequest struct {
	Deployer     string   `json:"deployer"`
	TokenAddress string   `json:"token_address"`
	TokenID      *big.Int `json:"token_id"`
}

// buildDeployPayload 组装未签名的部署交易载荷，由浏览器端钱包签名发送
func (s *Server) buildDeployPayload(c *gin.Context) {
	if s.deps.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "GATEWAY_DISABLED",
			"message": "未配置区块链节点",
		})
		return
	}

	var req deployPayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	contract, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if !contract.AllPartiesSigned() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "SIGNATURES_INCOMPLETE",
			"message": "所有参与方签名齐备后才能部署",
		})
		return
	}

	deployReq := &chain.DeployRequest{
		TemplateIdx:  contract.TemplateIdx,
		Deployer:     req.Deployer,
		TokenAddress: req.TokenAddress,
		TokenID:      req.TokenID,
	}
	for _, party := range contract.Parties {
		switch party.Role {
		case models.PartyBuyer:
			if deployReq.Deployer == "" {
				deployReq.Deployer = party.Address
			}
		case models.PartySeller:
			deployReq.Seller = party.Address
		case models.PartyArbiter:
			deployReq.Arbiter = party.Address
		}
	}

	payload, err := s.deps.Gateway.PrepareDeploy(c.Request.Context(), deployReq)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, payload)
}

// confirmDeploymentRequest 部署确认请求体
type confirmDeploymentRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// confirmDeployment 等待部署交易回执并落库合约地址
func (s *Server) confirmDeployment(c *gin.Context) {
	if s.deps.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "GATEWAY_DISABLED",
			"message": "未配置区块链节点",
		})
		return
	}

	var req confirmDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	contract, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if contract.Status != models.StatusDraft {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "ALREADY_DEPLOYED",
			"message": "该合约记录已完成部署",
		})
		return
	}

	address, err := s.deps.Gateway.ConfirmDeployment(c.Request.Context(), req.TxHash)
	if err != nil {
		s.writeError(c, err)
		return
	}

	updated, err := s.deps.Store.MarkDeployed(c.Request.Context(), contract.ID, address, req.TxHash)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// compileSource 转发到编译服务
func (s *Server) compileSource(c *gin.Context) {
	if s.deps.Compiler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "COMPILER_DISABLED",
			"message": "未配置编译服务",
		})
		return
	}

	var req compile.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	result, err := s.deps.Compiler.Compile(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// submitVerification 提交源码验证
func (s *Server) submitVerification(c *gin.Context) {
	if s.deps.Verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "VERIFIER_DISABLED",
			"message": "未配置验证服务",
		})
		return
	}

	var req verify.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST_BODY",
			"message": err.Error(),
		})
		return
	}

	submission, err := s.deps.Verifier.Submit(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

// checkVerification 查询验证进度
func (s *Server) checkVerification(c *gin.Context) {
	if s.deps.Verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "VERIFIER_DISABLED",
			"message": "未配置验证服务",
		})
		return
	}

	status, err := s.deps.Verifier.CheckStatus(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// getPortfolio 查询钱包的ETH与代币余额
// tokens参数为逗号分隔的代币合约地址列表
func (s *Server) getPortfolio(c *gin.Context) {
	if s.deps.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "GATEWAY_DISABLED",
			"message": "未配置区块链节点",
		})
		return
	}

	var tokens []string
	if raw := c.Query("tokens"); raw != "" {
		for _, token := range strings.Split(raw, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens = append(tokens, token)
			}
		}
	}

	portfolio, err := s.deps.Gateway.Portfolio(c.Request.Context(), c.Param("address"), tokens)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, portfolio)
}
