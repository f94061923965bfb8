package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"satcontracts/internal/errors"
	"satcontracts/pkg/models"

	"github.com/google/uuid"
)

// MemoryStore 内存合约存储
// 未配置Postgres DSN时的开发环境降级实现，进程重启后数据丢失
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[string]*models.DeployedContract
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contracts: make(map[string]*models.DeployedContract)}
}

func (s *MemoryStore) Create(_ context.Context, contract *models.DeployedContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	if contract.Status == "" {
		contract.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	contract.CreatedAt = now
	contract.UpdatedAt = now

	s.contracts[contract.ID] = cloneContract(contract)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.DeployedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.contracts[id]
	if !ok {
		return nil, notFoundError(id)
	}
	return cloneContract(contract), nil
}

func (s *MemoryStore) FindByAddress(_ context.Context, address string) (*models.DeployedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, contract := range s.contracts {
		if contract.Address != "" && strings.EqualFold(contract.Address, address) {
			return cloneContract(contract), nil
		}
	}
	return nil, notFoundError("")
}

func (s *MemoryStore) List(_ context.Context, filter *models.ContractListFilter) ([]*models.DeployedContract, error) {
	if filter == nil {
		filter = &models.ContractListFilter{}
	}

	s.mu.RLock()
	var matched []*models.DeployedContract
	for _, contract := range s.contracts {
		if filter.Status != "" && contract.Status != filter.Status {
			continue
		}
		if filter.Party != "" && contract.PartyByAddress(filter.Party) == nil {
			continue
		}
		matched = append(matched, cloneContract(contract))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *MemoryStore) ListTracked(_ context.Context) ([]*models.DeployedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tracked []*models.DeployedContract
	for _, contract := range s.contracts {
		if contract.Address == "" {
			continue
		}
		if contract.Status == models.StatusReleased || contract.Status == models.StatusRefunded {
			continue
		}
		tracked = append(tracked, cloneContract(contract))
	}
	sort.Slice(tracked, func(i, j int) bool {
		return tracked[i].CreatedAt.Before(tracked[j].CreatedAt)
	})
	return tracked, nil
}

func (s *MemoryStore) Update(_ context.Context, contract *models.DeployedContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[contract.ID]; !ok {
		return notFoundError(contract.ID)
	}
	contract.UpdatedAt = time.Now().UTC()
	s.contracts[contract.ID] = cloneContract(contract)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[id]; !ok {
		return notFoundError(id)
	}
	delete(s.contracts, id)
	return nil
}

func (s *MemoryStore) AddSignature(ctx context.Context, id string, sig models.PartySignature) (*models.DeployedContract, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	contract.Signatures = append(contract.Signatures, sig)
	if err := s.Update(ctx, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

func (s *MemoryStore) MarkDeployed(ctx context.Context, id, address, txHash string) (*models.DeployedContract, error) {
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
	return contract, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id, status string) error {
	if !models.IsValidStatus(status) {
		return errors.NewContractError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_STATUS", fmt.Sprintf("非法的合约状态: %s", status))
	}
	contract, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	contract.Status = status
	return s.Update(ctx, contract)
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneContract(contract *models.DeployedContract) *models.DeployedContract {
	clone := *contract
	clone.Parties = append([]models.Party(nil), contract.Parties...)
	clone.Signatures = append([]models.PartySignature(nil), contract.Signatures...)
	return &clone
}
