// Package messaging 金库事件的 Kafka 发布、事务性 outbox 及其中继
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	// 超过最大重试次数，已转入死信主题
	OutboxDead = "dead"
)

// EventEnvelope Kafka 消息体
type EventEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Epoch     uint64          `json:"epoch"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope 为事件分配唯一 id 并编码
func NewEnvelope(e domain.Event) (EventEnvelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("failed to marshal %s: %w", e.EventType(), err)
	}
	return EventEnvelope{
		EventID:   uuid.NewString(),
		EventType: e.EventType(),
		Epoch:     e.AggregateEpoch(),
		Payload:   payload,
	}, nil
}

// KafkaMessage 以 key 分区写入 topic，同一 key 的事件保持顺序
func (e EventEnvelope) KafkaMessage(topic, key string) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.EventID)},
			{Key: "event_type", Value: []byte(e.EventType)},
		},
	}, nil
}

// OutboxMessage 与账本同事务写入的待发事件
type OutboxMessage struct {
	ID        uint64    `gorm:"primaryKey"`
	EventID   string    `gorm:"type:char(36);uniqueIndex"`
	EventType string    `gorm:"type:varchar(64);index"`
	Epoch     uint64    `gorm:"index"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(16);index;default:'pending'"`
	Attempts  int       `gorm:"not null;default:0"`
	LastError string    `gorm:"type:varchar(512)"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (OutboxMessage) TableName() string { return "vault_outbox_messages" }

// Envelope 还原消息体
func (m OutboxMessage) Envelope() EventEnvelope {
	return EventEnvelope{
		EventID:   m.EventID,
		EventType: m.EventType,
		Epoch:     m.Epoch,
		Payload:   json.RawMessage(m.Payload),
	}
}

// NewOutboxMessages 按事件顺序生成 outbox 记录
func NewOutboxMessages(events []domain.Event) ([]OutboxMessage, error) {
	out := make([]OutboxMessage, 0, len(events))
	for _, e := range events {
		env, err := NewEnvelope(e)
		if err != nil {
			return nil, err
		}
		out = append(out, OutboxMessage{
			EventID:   env.EventID,
			EventType: env.EventType,
			Epoch:     env.Epoch,
			Payload:   string(env.Payload),
			Status:    OutboxPending,
		})
	}
	return out, nil
}
