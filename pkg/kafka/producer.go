package kafkautils

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Publisher sends JSON payloads keyed for partition affinity.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any, headers map[string]string) error
	Close()
}

type ProducerConfig struct {
	Logger           *zap.Logger
	BootstrapServers string
	Retries          int
}

type JSONProducer struct {
	logger   *zap.Logger
	producer *kafka.Producer
}

func NewJSONProducer(cfg ProducerConfig) (*JSONProducer, error) {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"acks":               "all",
		"enable.idempotence": "true",
		"retries":            cfg.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	cfg.Logger.Info("kafka producer created successfully", zap.String("brokers", cfg.BootstrapServers))
	go handleDeliveryReports(cfg.Logger, p)
	return &JSONProducer{logger: cfg.Logger, producer: p}, nil
}

// Publish enqueues the message; broker delivery failures are logged by the report loop.
// The message key drives partitioning so one order's events stay ordered.
func (k *JSONProducer) Publish(ctx context.Context, topic, key string, payload any, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: encode %s payload: %w", topic, err)
	}
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return k.producer.Produce(msg, nil)
}

// Close flushes outstanding messages for up to five seconds.
func (k *JSONProducer) Close() {
	if remaining := k.producer.Flush(5000); remaining > 0 {
		k.logger.Warn("kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	k.producer.Close()
}

func handleDeliveryReports(logger *zap.Logger, p *kafka.Producer) {
	for e := range p.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			logger.Error("failed to publish message",
				zap.String("topic", *ev.TopicPartition.Topic),
				zap.Error(ev.TopicPartition.Error))
		}
	}
}
