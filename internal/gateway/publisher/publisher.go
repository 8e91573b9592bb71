package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/logger"

	"github.com/segmentio/kafka-go"
)

// MessageWriter 是 kafka.Writer 的最小接口，便于测试替换。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka 把订单生命周期事件写入 Kafka，按订单 id 分区保证同一订单有序。
type Kafka struct {
	writer MessageWriter
	topic  string
}

var _ ledger.EventPublisher = (*Kafka)(nil)

func NewKafka(cfg config.PublisherConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("publisher.brokers 不能为空")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, fmt.Errorf("publisher.topic 不能为空")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaWithWriter(w, topic), nil
}

// NewKafkaWithWriter 使用外部提供的 writer（测试或自定义传输）。
func NewKafkaWithWriter(w MessageWriter, topic string) *Kafka {
	return &Kafka{writer: w, topic: topic}
}

func (k *Kafka) Publish(ctx context.Context, ev ledger.LifecycleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Type, k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Log 在未配置 Kafka 时只记录事件。
type Log struct{}

var _ ledger.EventPublisher = Log{}

func (Log) Publish(_ context.Context, ev ledger.LifecycleEvent) error {
	logger.Debugf("lifecycle event %s order=%s status=%s", ev.Type, ev.OrderID, ev.Status)
	return nil
}

func (Log) Close() error { return nil }
