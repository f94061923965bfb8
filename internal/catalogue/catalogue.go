package catalogue

import (
	"fmt"
	"strings"

	"satcontracts/internal/errors"
	"satcontracts/pkg/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sirupsen/logrus"
)

// Catalogue 静态托管合约模板目录
// 模板在启动时从静态数组加载，ABI只解析一次，之后只读
type Catalogue struct {
	templates []models.EscrowTemplate
	abis      []abi.ABI
	eventsABI abi.ABI
	logger    *logrus.Logger
}

// New 构建模板目录并解析全部ABI，任何一条解析失败都视为启动失败
func New(logger *logrus.Logger) (*Catalogue, error) {
	if logger == nil {
		logger = logrus.New()
	}

	abis := make([]abi.ABI, len(templates))
	for i, tmpl := range templates {
		parsed, err := abi.JSON(strings.NewReader(tmpl.ABIJSON))
		if err != nil {
			return nil, errors.WrapError(
				err,
				errors.ErrorTypeConfig,
				errors.SeverityCritical,
				"TEMPLATE_ABI_INVALID",
				fmt.Sprintf("模板%s的ABI解析失败", tmpl.Name),
			)
		}
		if !strings.HasPrefix(tmpl.Bytecode, "0x") {
			return nil, errors.NewContractError(
				errors.ErrorTypeConfig,
				errors.SeverityCritical,
				"TEMPLATE_BYTECODE_INVALID",
				fmt.Sprintf("模板%s的字节码缺少0x前缀", tmpl.Name),
			)
		}
		abis[i] = parsed
	}

	eventsABI, err := abi.JSON(strings.NewReader(escrowEventsABI))
	if err != nil {
		return nil, errors.WrapError(
			err,
			errors.ErrorTypeConfig,
			errors.SeverityCritical,
			"TEMPLATE_ABI_INVALID",
			"托管事件ABI解析失败",
		)
	}

	logger.WithField("count", len(templates)).Info("合约模板目录加载完成")

	return &Catalogue{
		templates: templates,
		abis:      abis,
		eventsABI: eventsABI,
		logger:    logger,
	}, nil
}

// Count 模板总数
func (c *Catalogue) Count() int {
	return len(c.templates)
}

// List 返回全部模板摘要（不含源码和字节码）
func (c *Catalogue) List() []models.TemplateSummary {
	summaries := make([]models.TemplateSummary, 0, len(c.templates))
	for _, tmpl := range c.templates {
		summaries = append(summaries, tmpl.Summary())
	}
	return summaries
}

// Get 按索引获取完整模板，越界返回类型化错误
func (c *Catalogue) Get(index int) (*models.EscrowTemplate, error) {
	if index < 0 || index >= len(c.templates) {
		return nil, indexError(index, len(c.templates))
	}
	tmpl := c.templates[index]
	return &tmpl, nil
}

// ABI 按索引获取已解析的模板ABI
func (c *Catalogue) ABI(index int) (*abi.ABI, error) {
	if index < 0 || index >= len(c.abis) {
		return nil, indexError(index, len(c.abis))
	}
	return &c.abis[index], nil
}

func indexError(index, count int) *errors.ContractError {
	return errors.NewContractError(
		errors.ErrorTypeTemplateSelection,
		errors.SeverityMedium,
		"TEMPLATE_INDEX_OUT_OF_RANGE",
		fmt.Sprintf("模板下标%d超出目录范围(共%d个)", index, count),
	)
}

// ByCategory 按类别过滤模板
func (c *Catalogue) ByCategory(category string) []models.EscrowTemplate {
	var matched []models.EscrowTemplate
	for _, tmpl := range c.templates {
		if strings.EqualFold(tmpl.Category, category) {
			matched = append(matched, tmpl)
		}
	}
	return matched
}

// EventsABI 托管事件的共享ABI，跟踪器用它解码日志
func (c *Catalogue) EventsABI() *abi.ABI {
	return &c.eventsABI
}
