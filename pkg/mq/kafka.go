// Package mq Kafka 生产者、消费者与死信队列
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	// 重试退避（毫秒）
	RetryBackoff int
}

// MessageWriter kafka.Writer 的最小接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer Kafka 生产者
type Producer struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewProducer 创建写入 cfg.Brokers 的生产者
func NewProducer(cfg KafkaConfig, logger *slog.Logger) *Producer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := time.Duration(cfg.RetryBackoff) * time.Millisecond
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxRetries,
		WriteBackoffMin:        backoff,
		WriteBackoffMax:        backoff * 10,
	}
	return NewProducerWithWriter(writer, logger)
}

// NewProducerWithWriter 使用给定 writer 创建生产者
func NewProducerWithWriter(w MessageWriter, logger *slog.Logger) *Producer {
	return &Producer{writer: w, logger: logger.With("module", "kafka_producer")}
}

// SendMessage 以 JSON 编码 value 并发送单条消息
func (p *Producer) SendMessage(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Send(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: data})
}

// Send 发送已编码的消息，同一批次原子写入
func (p *Producer) Send(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.ErrorContext(ctx, "failed to send kafka messages", "topic", msgs[0].Topic, "count", len(msgs), "error", err)
		return err
	}
	p.logger.DebugContext(ctx, "kafka messages sent", "topic", msgs[0].Topic, "count", len(msgs))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Message 消费到的消息
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// UnmarshalPayload 将消息值解析为 JSON
func (m *Message) UnmarshalPayload(dest any) error {
	return json.Unmarshal(m.Value, dest)
}

// Consumer Kafka 消费者
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer 创建消费者；GroupID 为空时从 startOffset 读取单分区
func NewConsumer(cfg KafkaConfig, topic string, startOffset int64) *Consumer {
	return &Consumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: time.Duration(cfg.SessionTimeout) * time.Second,
		CommitInterval: time.Second,
		StartOffset:    startOffset,
		MaxBytes:       10e6,
	})}
}

// ReadMessage 阻塞读取下一条消息
func (c *Consumer) ReadMessage(ctx context.Context) (*Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return fromKafka(msg), nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromKafka(msg kafka.Message) *Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Time:      msg.Time,
	}
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer *Producer
	topic    string
}

func NewDeadLetterQueue(producer *Producer, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

// DeadLetter 死信消息体
type DeadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	OriginalKey   string          `json:"original_key"`
	OriginalValue json.RawMessage `json:"original_value"`
	Reason        string          `json:"failure_reason"`
	Error         string          `json:"failure_error"`
	FailedAt      time.Time       `json:"failure_timestamp"`
}

// Send 将无法投递的消息写入死信主题
func (d *DeadLetterQueue) Send(ctx context.Context, original *Message, reason string, cause error) error {
	letter := DeadLetter{
		OriginalTopic: original.Topic,
		OriginalKey:   original.Key,
		OriginalValue: json.RawMessage(original.Value),
		Reason:        reason,
		FailedAt:      time.Now().UTC(),
	}
	if !json.Valid(original.Value) {
		letter.OriginalValue, _ = json.Marshal(string(original.Value))
	}
	if cause != nil {
		letter.Error = cause.Error()
	}
	return d.producer.SendMessage(ctx, d.topic, original.Key, letter)
}
