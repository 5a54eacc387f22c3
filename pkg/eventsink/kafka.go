package eventsink

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink 同步写入 Kafka，key 为会话 ID
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka 连接 brokers 并创建同步生产者
func NewKafka(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "linkup"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("eventsink: kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, topic), nil
}

// NewKafkaWithProducer 使用已有生产者
func NewKafkaWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Publish(_ context.Context, event Event) error {
	body, err := event.encode()
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.Key()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(event.Type)},
		},
		Timestamp: event.At,
	})
	if err != nil {
		return fmt.Errorf("eventsink: kafka send %s: %w", event.Type, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
