package chat

import (
	"context"
	"fmt"
	"strings"

	"satcontracts/internal/errors"
	"satcontracts/internal/llm"
	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
)

// ContributionSink 贡献记录落盘接口，由输出层实现
type ContributionSink interface {
	WriteContribution(record *models.Contribution) error
}

// Pipeline 会话处理管线
// 每次请求独立处理：路由意图、执行对应操作、返回回复
// 历史由浏览器持有并随请求重发，服务端不保存会话状态
type Pipeline struct {
	router    *llm.Router
	selector  *llm.Selector
	extractor *llm.ContributionExtractor
	client    *llm.Client
	sink      ContributionSink
	logger    *logrus.Logger
}

// NewPipeline 创建会话管线
func NewPipeline(
	router *llm.Router,
	selector *llm.Selector,
	extractor *llm.ContributionExtractor,
	client *llm.Client,
	sink ContributionSink,
	logger *logrus.Logger,
) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		router:    router,
		selector:  selector,
		extractor: extractor,
		client:    client,
		sink:      sink,
		logger:    logger,
	}
}

// Handle 处理一次聊天请求
func (p *Pipeline) Handle(ctx context.Context, req *models.ChatRequest) (*models.ChatResult, error) {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return nil, errors.NewContractError(
			errors.ErrorTypeValidation,
			errors.SeverityLow,
			"EMPTY_MESSAGE",
			"消息不能为空",
		)
	}

	history := models.SanitizeHistory(req.History)

	operation, err := p.router.Route(ctx, req.Message, history)
	if err != nil {
		return nil, err
	}

	p.logger.WithField("operation", operation).Info("会话请求已路由")

	switch operation {
	case models.OperationEscrow:
		return p.handleEscrow(ctx, req.Message, history)
	case models.OperationContribute:
		return p.handleContribute(ctx, req.Message, history)
	default:
		return p.handleGeneral(ctx, req.Message, history)
	}
}

// handleEscrow 模板选择，必要时做一次改写
// 选择失败降级为澄清回复而不是错误
func (p *Pipeline) handleEscrow(ctx context.Context, message string, history []models.Message) (*models.ChatResult, error) {
	tmpl, err := p.selector.Select(ctx, message, history)
	if err != nil {
		var contractErr *errors.ContractError
		if errors.AsContractError(err, &contractErr) && contractErr.Type == errors.ErrorTypeTemplateSelection {
			p.logger.WithError(err).Info("模板选择降级为澄清回复")
			return &models.ChatResult{
				Operation: models.OperationEscrow,
				Reply: "I couldn't match your request to one of our escrow templates. " +
					"Could you tell me what is being exchanged (ETH, an ERC20 token, an NFT, or cBTC) " +
					"and who the parties are?",
			}, nil
		}
		return nil, err
	}

	result := &models.ChatResult{
		Operation: models.OperationEscrow,
		Template:  tmpl,
		Reply: fmt.Sprintf("I've selected the %s template (%s escrow): %s. "+
			"Review the source and deploy it when you're ready.",
			tmpl.Name, tmpl.Category, tmpl.Description),
	}

	if wantsAdaptation(message) {
		adapted, err := p.selector.Adapt(ctx, tmpl, message)
		if err != nil {
			// 改写失败仍返回基础模板
			p.logger.WithError(err).Warn("模板改写失败，返回基础模板")
			result.Reply += " I couldn't apply your customization, so this is the unmodified template."
			return result, nil
		}
		result.AdaptedSource = adapted
		result.Reply = fmt.Sprintf("I've adapted the %s template to your request. "+
			"Review the modified source carefully before deploying.", tmpl.Name)
	}

	return result, nil
}

// handleContribute 结构化贡献并写入输出层
// 落盘失败只记日志，回复仍然致谢
func (p *Pipeline) handleContribute(ctx context.Context, message string, history []models.Message) (*models.ChatResult, error) {
	record, err := p.extractor.Extract(ctx, message, history)
	if err != nil {
		return nil, err
	}

	if p.sink != nil {
		if err := p.sink.WriteContribution(record); err != nil {
			p.logger.WithError(err).Error("贡献记录写入失败")
		}
	}

	reply := "Thank you for your contribution! It has been logged."
	if record.ParseOK && record.Summary != "" {
		reply = fmt.Sprintf("Thank you for your contribution (%s)! It has been logged.", record.Summary)
	}

	return &models.ChatResult{
		Operation:    models.OperationContribute,
		Reply:        reply,
		Contribution: record,
	}, nil
}

// handleGeneral 单次生成通用回复
func (p *Pipeline) handleGeneral(ctx context.Context, message string, history []models.Message) (*models.ChatResult, error) {
	reply, err := p.client.GenerateGeneral(ctx, message, history)
	if err != nil {
		return nil, err
	}
	return &models.ChatResult{
		Operation: models.OperationGeneral,
		Reply:     reply,
	}, nil
}

// wantsAdaptation 判断用户是否要求定制模板
var adaptationKeywords = []string{
	"change", "modify", "adapt", "customize", "custom", "add a", "add an",
	"remove", "instead", "but with", "修改", "调整", "定制", "增加", "去掉",
}

func wantsAdaptation(message string) bool {
	lower := strings.ToLower(message)
	for _, keyword := range adaptationKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
