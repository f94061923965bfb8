package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/chain"
	"satcontracts/internal/chat"
	"satcontracts/internal/compile"
	"satcontracts/internal/config"
	"satcontracts/internal/errors"
	"satcontracts/internal/store"
	"satcontracts/internal/validation"
	"satcontracts/internal/verify"
)

// Deps API服务器依赖的业务组件
// compiler/verifier/gateway允许为空，对应接口返回503
type Deps struct {
	Pipeline  *chat.Pipeline
	Catalogue *catalogue.Catalogue
	Store     store.ContractStore
	Validator *validation.Validator
	Gateway   *chain.Gateway
	Compiler  *compile.Client
	Verifier  *verify.Client
}

// Server API服务器
type Server struct {
	config     *config.Config
	deps       Deps
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	startedAt  time.Time
	port       int
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, deps Deps, logger *logrus.Logger, port int) *Server {
	// 创建日志管理器
	logManager := NewLogManager(1000) // 最多保存1000条日志

	// 添加日志钩子
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		config:     cfg,
		deps:       deps,
		logger:     logger,
		logManager: logManager,
		port:       port,
	}
}

// Start 启动API服务器
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// 添加CORS中间件
	router.Use(s.corsMiddleware())

	// 添加中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// 设置路由
	s.setupRoutes(router)

	// 创建HTTP服务器
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}
	s.startedAt = time.Now()

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// corsMiddleware 根据配置的来源列表放行跨域请求
func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := s.config.Server.CORSOrigins
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			for _, o := range origins {
				if o == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 服务状态
		api.GET("/status", s.getStatus)
		api.GET("/nodes", s.getNodes)
		api.GET("/config/public", s.getPublicConfig)

		// 会话
		api.POST("/chat", s.handleChat)

		// 模板目录
		api.GET("/templates", s.listTemplates)
		api.GET("/templates/:index", s.getTemplate)

		// 合约记录
		api.POST("/contracts", s.createContract)
		api.GET("/contracts", s.listContracts)
		api.GET("/contracts/:id", s.getContract)
		api.PUT("/contracts/:id", s.updateContract)
		api.DELETE("/contracts/:id", s.deleteContract)
		api.POST("/contracts/:id/signatures", s.addSignature)
		api.POST("/contracts/:id/deploy-payload", s.buildDeployPayload)
		api.POST("/contracts/:id/deployment", s.confirmDeployment)

		// 编译与验证
		api.POST("/compile", s.compileSource)
		api.POST("/verify", s.submitVerification)
		api.GET("/verify/:guid", s.checkVerification)

		// 钱包资产
		api.GET("/portfolio/:address", s.getPortfolio)

		// 日志
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}

	// 前端静态资源
	if dir := s.config.Server.StaticDir; dir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(dir))))
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "satcontracts",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// getStatus 获取服务状态
func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"status":         "running",
		"uptime":         time.Since(s.startedAt).String(),
		"chain_id":       s.config.Blockchain.ChainID,
		"template_count": s.deps.Catalogue.Count(),
	}
	if s.deps.Compiler != nil {
		status["compile_cache_entries"] = s.deps.Compiler.CacheLen()
	}
	c.JSON(http.StatusOK, status)
}

// getNodes 获取节点连接状态
func (s *Server) getNodes(c *gin.Context) {
	if s.deps.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "GATEWAY_DISABLED",
			"message": "未配置区块链节点",
		})
		return
	}
	c.JSON(http.StatusOK, s.deps.Gateway.Stats())
}

// getPublicConfig 获取前端需要的公开配置
func (s *Server) getPublicConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chain_id":                 s.config.Blockchain.ChainID,
		"walletconnect_project_id": s.config.Blockchain.WalletConnectProjectID,
	})
}

// getLogs 获取分页日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "50"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}

// writeError 按错误类型映射HTTP状态码并输出统一错误格式
func (s *Server) writeError(c *gin.Context, err error) {
	var contractErr *errors.ContractError
	if errors.AsContractError(err, &contractErr) {
		c.JSON(httpStatus(contractErr), gin.H{
			"error":   contractErr.Code,
			"message": contractErr.Message,
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "INTERNAL_ERROR",
		"message": err.Error(),
	})
}

func httpStatus(err *errors.ContractError) int {
	// 源码本身编译不过属于调用方问题
	if err.Code == "COMPILE_FAILED" || err.Code == "VERIFY_SUBMIT_REJECTED" {
		return http.StatusUnprocessableEntity
	}

	switch err.Type {
	case errors.ErrorTypeValidation, errors.ErrorTypeInvalidAddress,
		errors.ErrorTypeInvalidSignature, errors.ErrorTypeTemplateSelection,
		errors.ErrorTypeData, errors.ErrorTypeSerialization:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrorTypeLLM, errors.ErrorTypeCompiler, errors.ErrorTypeVerifier,
		errors.ErrorTypeExternalAPI, errors.ErrorTypeNetwork, errors.ErrorTypeConnection:
		return http.StatusBadGateway
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
