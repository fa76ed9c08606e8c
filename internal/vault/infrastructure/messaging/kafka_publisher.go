package messaging

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// Sender Kafka 批量发送，由 mq.Producer 实现
type Sender interface {
	Send(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaEventPublisher 直接将提交后的事件写入 Kafka，用于无数据库部署。
// 所有事件使用同一分区 key 以保持全局顺序。
type KafkaEventPublisher struct {
	sender Sender
	topic  string
	key    string
}

func NewKafkaEventPublisher(sender Sender, topic, key string) *KafkaEventPublisher {
	return &KafkaEventPublisher{sender: sender, topic: topic, key: key}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		env, err := NewEnvelope(e)
		if err != nil {
			return err
		}
		msg, err := env.KafkaMessage(p.topic, p.key)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", env.EventType, err)
		}
		msgs = append(msgs, msg)
	}
	return p.sender.Send(ctx, msgs...)
}
