package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
)

// AsyncFileOutput 异步文件输出器，写入经过缓冲通道批量落盘
type AsyncFileOutput struct {
	outputDir string
	format    string
	compress  bool
	logger    *logrus.Logger

	// 文件句柄
	files map[string]*os.File

	// 异步写入通道
	eventChan        chan *models.ContractEvent
	contributionChan chan *models.Contribution

	// 控制通道
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 批量写入配置
	batchSize     int
	flushInterval time.Duration
}

// NewAsyncFileOutput 创建异步文件输出器
func NewAsyncFileOutput(outputPath, format string, compress bool, logger *logrus.Logger) (*AsyncFileOutput, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	output := &AsyncFileOutput{
		outputDir:     outputPath,
		format:        format,
		compress:      compress,
		logger:        logger,
		files:         make(map[string]*os.File),
		ctx:           ctx,
		cancel:        cancel,
		batchSize:     100,
		flushInterval: time.Second,
	}

	channelSize := 1000
	output.eventChan = make(chan *models.ContractEvent, channelSize)
	output.contributionChan = make(chan *models.Contribution, channelSize)

	if err := output.createFiles(); err != nil {
		cancel()
		return nil, err
	}

	output.startWorkers()

	logger.Info("异步文件输出器已初始化")
	return output, nil
}

// createFiles 创建输出文件
func (o *AsyncFileOutput) createFiles() error {
	timestamp := time.Now().Format("20060102_150405")

	fileNames := map[string]string{
		"contract_events": fmt.Sprintf("contract_events_%s.%s", timestamp, o.format),
		"contributions":   fmt.Sprintf("contributions_%s.%s", timestamp, o.format),
	}

	for key, fileName := range fileNames {
		file, err := os.Create(filepath.Join(o.outputDir, fileName))
		if err != nil {
			return fmt.Errorf("创建文件 %s 失败: %w", fileName, err)
		}
		o.files[key] = file
	}

	return nil
}

// startWorkers 启动异步写入工作器
func (o *AsyncFileOutput) startWorkers() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.eventWriter()
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.contributionWriter()
	}()
}

// eventWriter 合约事件批量写入器
func (o *AsyncFileOutput) eventWriter() {
	file := o.files["contract_events"]
	batch := make([][]byte, 0, o.batchSize)
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		o.writeBatch(file, batch, "合约事件")
		batch = batch[:0]
	}

	for {
		select {
		case event := <-o.eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				o.logger.Errorf("序列化合约事件失败: %v", err)
				continue
			}
			batch = append(batch, data)
			if len(batch) >= o.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-o.ctx.Done():
			// 排空通道后退出
			for {
				select {
				case event := <-o.eventChan:
					if data, err := json.Marshal(event); err == nil {
						batch = append(batch, data)
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// contributionWriter 贡献记录批量写入器
func (o *AsyncFileOutput) contributionWriter() {
	file := o.files["contributions"]
	batch := make([][]byte, 0, o.batchSize)
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		o.writeBatch(file, batch, "贡献记录")
		batch = batch[:0]
	}

	for {
		select {
		case contribution := <-o.contributionChan:
			data, err := json.Marshal(contribution)
			if err != nil {
				o.logger.Errorf("序列化贡献记录失败: %v", err)
				continue
			}
			batch = append(batch, data)
			if len(batch) >= o.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-o.ctx.Done():
			for {
				select {
				case contribution := <-o.contributionChan:
					if data, err := json.Marshal(contribution); err == nil {
						batch = append(batch, data)
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch 把一批记录写入文件
func (o *AsyncFileOutput) writeBatch(file *os.File, batch [][]byte, kind string) {
	for _, data := range batch {
		if _, err := file.Write(append(data, '\n')); err != nil {
			o.logger.Errorf("写入%s文件失败: %v", kind, err)
			return
		}
	}
	if err := file.Sync(); err != nil {
		o.logger.Errorf("刷新%s文件失败: %v", kind, err)
	}
}

// WriteContractEvent 异步写入合约事件
func (o *AsyncFileOutput) WriteContractEvent(event *models.ContractEvent) error {
	if event == nil {
		return nil
	}

	select {
	case o.eventChan <- event:
		return nil
	case <-o.ctx.Done():
		return fmt.Errorf("输出器已关闭")
	default:
		return fmt.Errorf("合约事件通道已满")
	}
}

// WriteContribution 异步写入贡献记录
func (o *AsyncFileOutput) WriteContribution(contribution *models.Contribution) error {
	if contribution == nil {
		return nil
	}

	select {
	case o.contributionChan <- contribution:
		return nil
	case <-o.ctx.Done():
		return fmt.Errorf("输出器已关闭")
	default:
		return fmt.Errorf("贡献记录通道已满")
	}
}

// Close 关闭输出器，等待缓冲数据写完
func (o *AsyncFileOutput) Close() error {
	o.cancel()
	o.wg.Wait()

	var errs []error
	for name, file := range o.files {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭文件 %s 失败: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}

	o.logger.Info("异步文件输出器已关闭")
	return nil
}
