package output

import (
	"encoding/json"
	"fmt"
	"time"

	"satcontracts/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")

	return &KafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}, nil
}

// sendToKafka 发送数据到Kafka
func (k *KafkaOutput) sendToKafka(topic string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("成功发送数据到Kafka topic '%s' (partition: %d, offset: %d)",
		topic, partition, offset)

	return nil
}

// WriteContractEvent 写入合约事件
func (k *KafkaOutput) WriteContractEvent(event *models.ContractEvent) error {
	if event == nil {
		return nil
	}

	topic, exists := k.topics["contract_events"]
	if !exists {
		topic = "satcontracts_contract_events"
	}

	// 事件按合约地址作为分区键，同一合约的事件保持有序
	jsonData, err := json.Marshal(event.ToKafkaMessage())
	if err != nil {
		return fmt.Errorf("序列化合约事件失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.ContractAddress),
		Value: sarama.StringEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送合约事件到Kafka失败: %w", err)
	}

	k.logger.Debugf("合约事件已发送到 topic '%s' (partition: %d, offset: %d)",
		topic, partition, offset)

	return nil
}

// WriteContribution 写入贡献记录
func (k *KafkaOutput) WriteContribution(contribution *models.Contribution) error {
	if contribution == nil {
		return nil
	}

	topic, exists := k.topics["contributions"]
	if !exists {
		topic = "satcontracts_contributions"
	}

	return k.sendToKafka(topic, contribution.ToKafkaMessage())
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
