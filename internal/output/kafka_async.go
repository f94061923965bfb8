package output

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"satcontracts/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// AsyncKafkaOutput 异步Kafka输出器
// 事件量大时用异步生产者换吞吐，发送结果由后台goroutine统一消化
type AsyncKafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.AsyncProducer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	sentCount  atomic.Int64
	errorCount atomic.Int64
}

// NewAsyncKafkaOutput 创建异步Kafka输出器
func NewAsyncKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaOutput, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v, topics: %v", brokers, topics)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Flush.Bytes = 1024 * 1024
	config.Producer.Compression = sarama.CompressionSnappy
	config.ChannelBufferSize = 1000
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := &AsyncKafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
		ctx:      ctx,
		cancel:   cancel,
	}

	out.wg.Add(2)
	go out.drainResults()
	go out.reportStats()

	logger.Info("异步Kafka生产者已启动")
	return out, nil
}

// drainResults 消化生产者的成功与失败回执
func (k *AsyncKafkaOutput) drainResults() {
	defer k.wg.Done()

	for {
		select {
		case success := <-k.producer.Successes():
			if success != nil {
				k.sentCount.Add(1)
				k.logger.Debugf("消息已发送: topic=%s, partition=%d, offset=%d",
					success.Topic, success.Partition, success.Offset)
			}
		case prodErr := <-k.producer.Errors():
			if prodErr != nil {
				k.errorCount.Add(1)
				k.logger.Errorf("Kafka发送失败: topic=%s, error=%v", prodErr.Msg.Topic, prodErr.Err)
			}
		case <-k.ctx.Done():
			return
		}
	}
}

// reportStats 每30秒汇报一次发送统计
func (k *AsyncKafkaOutput) reportStats() {
	defer k.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, failed := k.sentCount.Load(), k.errorCount.Load()
			if sent+failed == 0 {
				continue
			}
			k.logger.Infof("Kafka统计: 已发送 %d 条, 失败 %d 条, 成功率 %.2f%%",
				sent, failed, float64(sent)/float64(sent+failed)*100)
		case <-k.ctx.Done():
			return
		}
	}
}

func (k *AsyncKafkaOutput) enqueue(topic, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	case <-k.ctx.Done():
		return fmt.Errorf("Kafka生产者已关闭")
	default:
		return fmt.Errorf("Kafka生产者输入通道已满")
	}
}

func (k *AsyncKafkaOutput) topicFor(name, fallback string) string {
	if topic, exists := k.topics[name]; exists {
		return topic
	}
	return fallback
}

// WriteContractEvent 异步写入合约事件
// 按合约地址作为分区键，同一合约的事件保持有序
func (k *AsyncKafkaOutput) WriteContractEvent(event *models.ContractEvent) error {
	if event == nil {
		return nil
	}
	topic := k.topicFor("contract_events", "satcontracts_contract_events")
	return k.enqueue(topic, event.ContractAddress, event.ToKafkaMessage())
}

// WriteContribution 异步写入贡献记录
func (k *AsyncKafkaOutput) WriteContribution(contribution *models.Contribution) error {
	if contribution == nil {
		return nil
	}
	topic := k.topicFor("contributions", "satcontracts_contributions")
	return k.enqueue(topic, "", contribution.ToKafkaMessage())
}

// Flush 等待输入通道排空
func (k *AsyncKafkaOutput) Flush() error {
	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending := len(k.producer.Input())
		if pending == 0 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-deadline:
			k.logger.Warnf("刷新超时，仍有 %d 条消息未进入发送队列", pending)
			return fmt.Errorf("刷新超时")
		}
	}
}

// GetStats 返回已发送与失败的消息数
func (k *AsyncKafkaOutput) GetStats() (int64, int64) {
	return k.sentCount.Load(), k.errorCount.Load()
}

// Close 刷新缓冲并关闭生产者
func (k *AsyncKafkaOutput) Close() error {
	k.logger.Info("关闭异步Kafka生产者...")

	if err := k.Flush(); err != nil {
		k.logger.Warnf("刷新缓冲区时出现错误: %v", err)
	}

	// 先关生产者让剩余回执送达，再停掉后台goroutine
	err := k.producer.Close()
	k.cancel()
	k.wg.Wait()

	sent, failed := k.GetStats()
	k.logger.Infof("异步Kafka生产者已关闭，总计发送: %d，失败: %d", sent, failed)
	return err
}
