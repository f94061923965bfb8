package store

import (
	"context"

	"satcontracts/pkg/models"
)

// ContractStore 合约记录存储接口
// API服务和跟踪器共用，测试时用内存实现替换
type ContractStore interface {
	// Create 创建合约记录，ID为空时自动生成
	Create(ctx context.Context, contract *models.DeployedContract) error

	// Get 按ID获取记录
	Get(ctx context.Context, id string) (*models.DeployedContract, error)

	// List 按条件分页查询
	List(ctx context.Context, filter *models.ContractListFilter) ([]*models.DeployedContract, error)

	// Update 全量更新记录
	Update(ctx context.Context, contract *models.DeployedContract) error

	// Delete 删除记录
	Delete(ctx context.Context, id string) error

	// AddSignature 追加一条参与方签名
	AddSignature(ctx context.Context, id string, sig models.PartySignature) (*models.DeployedContract, error)

	// MarkDeployed 记录部署结果并把状态推进到deployed
	MarkDeployed(ctx context.Context, id, address, txHash string) (*models.DeployedContract, error)

	// UpdateStatus 更新记录状态
	UpdateStatus(ctx context.Context, id, status string) error

	// FindByAddress 按链上地址查找记录
	FindByAddress(ctx context.Context, address string) (*models.DeployedContract, error)

	// ListTracked 列出需要跟踪的记录（已有链上地址且未到终态）
	ListTracked(ctx context.Context) ([]*models.DeployedContract, error)

	// Close 关闭存储
	Close() error
}
