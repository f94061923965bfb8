package progress

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/tracker_progress.db"

	// 存储桶名称
	ScanBucket  = "scan"
	StatsBucket = "stats"

	// 进度键
	LastScannedBlockKey = "last_scanned_block"
	StartTimeKey        = "start_time"
	LastUpdateTimeKey   = "last_update_time"
	EventCountsKey      = "event_counts"
)

// ScanProgress 事件扫描进度
type ScanProgress struct {
	LastScannedBlock uint64            `json:"last_scanned_block"`
	StartTime        time.Time         `json:"start_time"`
	LastUpdateTime   time.Time         `json:"last_update_time"`
	TotalBlocks      uint64            `json:"total_blocks"`
	TotalEvents      uint64            `json:"total_events"`
	EventCounts      map[string]uint64 `json:"event_counts"` // 按事件名统计
	ScanRate         float64           `json:"scan_rate"`    // 区块/秒
}

// Manager 扫描进度管理器，进程重启后从上次扫描位置继续
type Manager struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex

	// 内存缓存
	cache *ScanProgress
}

// NewManager 创建进度管理器
func NewManager(dbPath string, logger *logrus.Logger) (*Manager, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开进度数据库失败: %w", err)
	}

	manager := &Manager{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		cache:  &ScanProgress{EventCounts: make(map[string]uint64)},
	}

	if err := manager.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	if err := manager.loadCache(); err != nil {
		logger.Warnf("加载进度缓存失败: %v", err)
	}

	logger.Infof("进度管理器已初始化，数据库路径: %s", dbPath)
	return manager, nil
}

// initDB 初始化数据库结构
func (m *Manager) initDB() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ScanBucket)); err != nil {
			return fmt.Errorf("创建扫描存储桶失败: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(StatsBucket)); err != nil {
			return fmt.Errorf("创建统计存储桶失败: %w", err)
		}
		return nil
	})
}

// loadCache 加载缓存
func (m *Manager) loadCache() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ScanBucket))
		if bucket == nil {
			return nil
		}

		if data := bucket.Get([]byte(LastScannedBlockKey)); data != nil {
			m.cache.LastScannedBlock = binary.BigEndian.Uint64(data)
		}

		if data := bucket.Get([]byte(StartTimeKey)); data != nil {
			var startTime time.Time
			if err := json.Unmarshal(data, &startTime); err == nil {
				m.cache.StartTime = startTime
			}
		}

		if data := bucket.Get([]byte(LastUpdateTimeKey)); data != nil {
			var lastUpdateTime time.Time
			if err := json.Unmarshal(data, &lastUpdateTime); err == nil {
				m.cache.LastUpdateTime = lastUpdateTime
			}
		}

		if data := bucket.Get([]byte(EventCountsKey)); data != nil {
			counts := make(map[string]uint64)
			if err := json.Unmarshal(data, &counts); err == nil {
				m.cache.EventCounts = counts
				for _, c := range counts {
					m.cache.TotalEvents += c
				}
			}
		}

		return nil
	})
}

// LastScannedBlock 获取已扫描到的区块号
func (m *Manager) LastScannedBlock() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.LastScannedBlock
}

// MarkScanned 记录本轮扫描结束的区块号并持久化
func (m *Manager) MarkScanned(blockNumber uint64, scannedBlocks uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	m.cache.LastScannedBlock = blockNumber
	m.cache.LastUpdateTime = now
	m.cache.TotalBlocks += scannedBlocks

	if m.cache.StartTime.IsZero() {
		m.cache.StartTime = now
	}

	if duration := now.Sub(m.cache.StartTime).Seconds(); duration > 0 {
		m.cache.ScanRate = float64(m.cache.TotalBlocks) / duration
	}

	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ScanBucket))
		if bucket == nil {
			return fmt.Errorf("扫描存储桶不存在")
		}

		blockData := make([]byte, 8)
		binary.BigEndian.PutUint64(blockData, blockNumber)
		if err := bucket.Put([]byte(LastScannedBlockKey), blockData); err != nil {
			return fmt.Errorf("保存区块号失败: %w", err)
		}

		if startTimeData, err := json.Marshal(m.cache.StartTime); err == nil {
			bucket.Put([]byte(StartTimeKey), startTimeData)
		}
		if updateTimeData, err := json.Marshal(now); err == nil {
			bucket.Put([]byte(LastUpdateTimeKey), updateTimeData)
		}

		return nil
	})
}

// CountEvent 累计事件统计并持久化计数
func (m *Manager) CountEvent(eventName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache.EventCounts == nil {
		m.cache.EventCounts = make(map[string]uint64)
	}
	m.cache.EventCounts[eventName]++
	m.cache.TotalEvents++

	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ScanBucket))
		if bucket == nil {
			return fmt.Errorf("扫描存储桶不存在")
		}
		data, err := json.Marshal(m.cache.EventCounts)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(EventCountsKey), data)
	})
}

// SetStartBlock 设置起始区块，只在从未扫描过时生效
func (m *Manager) SetStartBlock(blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache.LastScannedBlock != 0 {
		return nil
	}

	m.cache.LastScannedBlock = blockNumber
	m.cache.StartTime = time.Now()

	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ScanBucket))
		if bucket == nil {
			return fmt.Errorf("扫描存储桶不存在")
		}

		blockData := make([]byte, 8)
		binary.BigEndian.PutUint64(blockData, blockNumber)
		if err := bucket.Put([]byte(LastScannedBlockKey), blockData); err != nil {
			return fmt.Errorf("保存起始区块号失败: %w", err)
		}

		if startTimeData, err := json.Marshal(m.cache.StartTime); err == nil {
			bucket.Put([]byte(StartTimeKey), startTimeData)
		}

		return nil
	})
}

// GetProgress 获取进度快照
func (m *Manager) GetProgress() *ScanProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]uint64, len(m.cache.EventCounts))
	for k, v := range m.cache.EventCounts {
		counts[k] = v
	}

	return &ScanProgress{
		LastScannedBlock: m.cache.LastScannedBlock,
		StartTime:        m.cache.StartTime,
		LastUpdateTime:   m.cache.LastUpdateTime,
		TotalBlocks:      m.cache.TotalBlocks,
		TotalEvents:      m.cache.TotalEvents,
		EventCounts:      counts,
		ScanRate:         m.cache.ScanRate,
	}
}

// Reset 重置进度
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = &ScanProgress{EventCounts: make(map[string]uint64)}

	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ScanBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			return bucket.Delete(k)
		})
	})
}

// GetDBPath 获取数据库路径
func (m *Manager) GetDBPath() string {
	return m.dbPath
}

// GetStats 获取统计信息
func (m *Manager) GetStats() map[string]interface{} {
	info := m.GetProgress()

	stats := map[string]interface{}{
		"last_scanned_block": info.LastScannedBlock,
		"total_blocks":       info.TotalBlocks,
		"total_events":       info.TotalEvents,
		"event_counts":       info.EventCounts,
		"scan_rate":          fmt.Sprintf("%.2f blocks/sec", info.ScanRate),
		"start_time":         info.StartTime.Format(time.RFC3339),
		"last_update_time":   info.LastUpdateTime.Format(time.RFC3339),
	}

	if !info.StartTime.IsZero() {
		stats["running_duration"] = time.Since(info.StartTime).String()
	}

	return stats
}

// Close 关闭进度管理器
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Info("关闭进度管理器")
		return m.db.Close()
	}
	return nil
}
