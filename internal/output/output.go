package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"satcontracts/internal/config"
	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
)

// Output 输出接口，合约事件与贡献记录经由它落盘或进入消息队列
type Output interface {
	WriteContractEvent(event *models.ContractEvent) error
	WriteContribution(contribution *models.Contribution) error
	Close() error
}

// FileOutput 文件输出，每条记录写成一行JSON
type FileOutput struct {
	outputDir        string
	format           string
	compress         bool
	eventFile        *os.File
	contributionFile *os.File
	mu               sync.Mutex
}

// NewOutput 创建输出器
func NewOutput(outputPath, format string, compress bool) (Output, error) {
	return NewOutputWithConfig(outputPath, format, compress, nil)
}

// NewOutputWithConfig 创建输出器（带Kafka配置）
func NewOutputWithConfig(outputPath, format string, compress bool, kafkaConfig *config.KafkaConfig) (Output, error) {
	if format == "kafka" || format == "kafka_async" {
		brokers := []string{"localhost:9092"}
		if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
			brokers = strings.Split(kafkaBrokers, ",")
		}

		topics := map[string]string{
			"contract_events": "satcontracts_contract_events",
			"contributions":   "satcontracts_contributions",
		}

		if kafkaConfig != nil {
			if len(kafkaConfig.Brokers) > 0 {
				brokers = kafkaConfig.Brokers
			}
			if len(kafkaConfig.Topics) > 0 {
				topics = kafkaConfig.Topics
			}
		}

		logger := logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})

		if format == "kafka_async" {
			return NewAsyncKafkaOutput(brokers, topics, logger)
		}
		return NewKafkaOutput(brokers, topics, logger)
	}

	if format == "json_async" {
		logger := logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		return NewAsyncFileOutput(outputPath, "json", compress, logger)
	}

	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	output := &FileOutput{
		outputDir: outputPath,
		format:    format,
		compress:  compress,
	}

	timestamp := time.Now().Format("20060102_150405")

	eventFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("contract_events_%s.%s", timestamp, format)))
	if err != nil {
		return nil, fmt.Errorf("创建合约事件文件失败: %w", err)
	}
	output.eventFile = eventFile

	contributionFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("contributions_%s.%s", timestamp, format)))
	if err != nil {
		eventFile.Close()
		return nil, fmt.Errorf("创建贡献记录文件失败: %w", err)
	}
	output.contributionFile = contributionFile

	return output, nil
}

// WriteContractEvent 写入合约事件
func (o *FileOutput) WriteContractEvent(event *models.ContractEvent) error {
	if event == nil {
		return nil
	}
	return o.writeLine(o.eventFile, event, "合约事件")
}

// WriteContribution 写入贡献记录
func (o *FileOutput) WriteContribution(contribution *models.Contribution) error {
	if contribution == nil {
		return nil
	}
	return o.writeLine(o.contributionFile, contribution, "贡献记录")
}

func (o *FileOutput) writeLine(file *os.File, record interface{}, kind string) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化%s失败: %w", kind, err)
	}

	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("写入%s文件失败: %w", kind, err)
	}

	// 强制刷新到磁盘
	if err := file.Sync(); err != nil {
		return fmt.Errorf("刷新%s文件失败: %w", kind, err)
	}

	return nil
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error

	if o.eventFile != nil {
		if err := o.eventFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭合约事件文件失败: %w", err))
		}
	}

	if o.contributionFile != nil {
		if err := o.contributionFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭贡献记录文件失败: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}

	return nil
}
