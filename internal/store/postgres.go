package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"satcontracts/internal/errors"
	"satcontracts/pkg/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// contractsSchema 启动时幂等建表
const contractsSchema = `
CREATE TABLE IF NOT EXISTS contracts (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	template_index INT NOT NULL,
	address TEXT NOT NULL DEFAULT '',
	chain_id BIGINT NOT NULL,
	abi_json TEXT NOT NULL,
	bytecode TEXT NOT NULL,
	parties JSONB NOT NULL DEFAULT '[]',
	signatures JSONB NOT NULL DEFAULT '[]',
	deploy_tx_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts(status);
CREATE INDEX IF NOT EXISTS idx_contracts_address ON contracts(lower(address));
`

const contractColumns = `id, name, category, template_index, address, chain_id, abi_json, bytecode, parties, signatures, deploy_tx_hash, status, created_at, updated_at`

// PostgresStore 合约记录的PostgreSQL存储
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore 连接数据库并初始化表结构
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	if _, err := db.Exec(contractsSchema); err != nil {
		return nil, fmt.Errorf("初始化合约表失败: %w", err)
	}

	logger.Info("合约存储初始化完成")

	return &PostgresStore{db: db, logger: logger}, nil
}

// Create 创建合约记录
func (s *PostgresStore) Create(ctx context.Context, contract *models.DeployedContract) error {
	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	if contract.Status == "" {
		contract.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	contract.CreatedAt = now
	contract.UpdatedAt = now

	parties, signatures, err := marshalJSONColumns(contract)
	if err != nil {
		return err
	}

	query := `INSERT INTO contracts (` + contractColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = s.db.ExecContext(ctx, query,
		contract.ID, contract.Name, contract.Category, contract.TemplateIdx,
		contract.Address, int64(contract.ChainID), contract.ABIJSON, contract.Bytecode,
		parties, signatures, contract.DeployTxHash, contract.Status,
		contract.CreatedAt, contract.UpdatedAt,
	)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"CONTRACT_INSERT_FAILED", "插入合约记录失败")
	}

	s.logger.WithFields(logrus.Fields{
		"contract_id": contract.ID,
		"category":    contract.Category,
	}).Info("合约记录已创建")
	return nil
}

// Get 按ID获取记录
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.DeployedContract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// FindByAddress 按链上地址查找记录
func (s *PostgresStore) FindByAddress(ctx context.Context, address string) (*models.DeployedContract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE lower(address) = lower($1)`
	return s.scanOne(s.db.QueryRowContext(ctx, query, address))
}

// List 按条件分页查询，结果按创建时间倒序
func (s *PostgresStore) List(ctx context.Context, filter *models.ContractListFilter) ([]*models.DeployedContract, error) {
	if filter == nil {
		filter = &models.ContractListFilter{}
	}

	query := `SELECT ` + contractColumns + ` FROM contracts WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Party != "" {
		args = append(args, filter.Party)
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(parties) p
			WHERE lower(p->>'address') = lower($%d))`, len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"CONTRACT_QUERY_FAILED", "查询合约记录失败")
	}
	defer rows.Close()

	var contracts []*models.DeployedContract
	for rows.Next() {
		contract, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}

// ListTracked 列出需要跟踪的记录
func (s *PostgresStore) ListTracked(ctx context.Context) ([]*models.DeployedContract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts
		WHERE address <> '' AND status NOT IN ($1, $2)
		ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, models.StatusReleased, models.StatusRefunded)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"CONTRACT_QUERY_FAILED", "查询待跟踪合约失败")
	}
	defer rows.Close()

	var contracts []*models.DeployedContract
	for rows.Next() {
		contract, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}

// Update 全量更新记录
func (s *PostgresStore) Update(ctx context.Context, contract *models.DeployedContract) error {
	contract.UpdatedAt = time.Now().UTC()

	parties, signatures, err := marshalJSONColumns(contract)
	if err != nil {
		return err
	}

	query := `UPDATE contracts SET
		name = $2, category = $3, template_index = $4, address = $5, chain_id = $6,
		abi_json = $7, bytecode = $8, parties = $9, signatures = $10,
		deploy_tx_hash = $11, status = $12, updated_at = $13
		WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query,
		contract.ID, contract.Name, contract.Category, contract.TemplateIdx,
		contract.Address, int64(contract.ChainID), contract.ABIJSON, contract.Bytecode,
		parties, signatures, contract.DeployTxHash, contract.Status, contract.UpdatedAt,
	)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"CONTRACT_UPDATE_FAILED", "更新合约记录失败")
	}
	return checkAffected(result, contract.ID)
}

// Delete 删除记录
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contracts WHERE id = $1`, id)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"CONTRACT_DELETE_FAILED", "删除合约记录失败")
	}
	return checkAffected(result, id)
}

// AddSignature 追加签名并返回更新后的记录
func (s *PostgresStore) AddSignature(ctx context.Context, id string, sig models.PartySignature) (*models.DeployedContract, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	contract.Signatures = append(contract.Signatures, sig)
	if err := s.Update(ctx, contract); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"contract_id": id,
		"signer":      sig.Address,
	}).Info("合约签名已记录")
	return contract, nil
}

// MarkDeployed 记录部署结果
func (s *PostgresStore) MarkDeployed(ctx context.Context, id, address, txHash string) (*models.DeployedContract, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	contract.Address = address
	contract.DeployTxHash = txHash
	contract.Status = models.StatusDeployed
	if err := s.Update(ctx, contract); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"contract_id": id,
		"address":     address,
		"tx_hash":     txHash,
	}).Info("合约部署结果已记录")
	return contract, nil
}

// UpdateStatus 更新记录状态
func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string) error {
	if !models.IsValidStatus(status) {
		return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_STATUS", fmt.Sprintf("非法的合约状态: %s", status))
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"CONTRACT_UPDATE_FAILED", "更新合约状态失败")
	}
	return checkAffected(result, id)
}

// Close 关闭数据库连接
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.DeployedContract, error) {
	contract, err := scanContract(row.Scan)
	if err == sql.ErrNoRows {
		return nil, notFoundError("")
	}
	return contract, err
}

type scanFunc func(dest ...interface{}) error

func scanContract(scan scanFunc) (*models.DeployedContract, error) {
	var contract models.DeployedContract
	var chainID int64
	var parties, signatures []byte

	err := scan(
		&contract.ID, &contract.Name, &contract.Category, &contract.TemplateIdx,
		&contract.Address, &chainID, &contract.ABIJSON, &contract.Bytecode,
		&parties, &signatures, &contract.DeployTxHash, &contract.Status,
		&contract.CreatedAt, &contract.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"CONTRACT_SCAN_FAILED", "读取合约记录失败")
	}

	contract.ChainID = uint64(chainID)
	if err := json.Unmarshal(parties, &contract.Parties); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"PARTIES_DECODE_FAILED", "解析参与方列表失败")
	}
	if err := json.Unmarshal(signatures, &contract.Signatures); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"SIGNATURES_DECODE_FAILED", "解析签名列表失败")
	}
	return &contract, nil
}

func marshalJSONColumns(contract *models.DeployedContract) ([]byte, []byte, error) {
	if contract.Parties == nil {
		contract.Parties = []models.Party{}
	}
	if contract.Signatures == nil {
		contract.Signatures = []models.PartySignature{}
	}

	parties, err := json.Marshal(contract.Parties)
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"PARTIES_ENCODE_FAILED", "序列化参与方列表失败")
	}
	signatures, err := json.Marshal(contract.Signatures)
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"SIGNATURES_ENCODE_FAILED", "序列化签名列表失败")
	}
	return parties, signatures, nil
}

func checkAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFoundError(id)
	}
	return nil
}

func notFoundError(id string) *errors.ContractError {
	err := errors.NewContractError(errors.ErrorTypeNotFound, errors.SeverityLow,
		"CONTRACT_NOT_FOUND", "合约记录不存在")
	if id != "" {
		err = err.WithContractID(id)
	}
	return err
}
