package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/optionvault/pkg/mq"
)

// OutboxStore outbox 表的读写
type OutboxStore interface {
	// PendingOutbox 按写入顺序返回待发记录
	PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, ids []uint64) error
	MarkOutboxFailed(ctx context.Context, id uint64, attempts int, lastErr, status string) error
	// CleanupOutbox 删除 before 之前已发送的记录
	CleanupOutbox(ctx context.Context, before time.Time) (int64, error)
}

// DeadLetterer 死信投递，由 mq.DeadLetterQueue 实现
type DeadLetterer interface {
	Send(ctx context.Context, original *mq.Message, reason string, cause error) error
}

// RelayRecorder 中继指标
type RelayRecorder interface {
	RecordOutbox(relayed, failed int)
}

// OutboxRelay 将 outbox 中的事件按序投递到 Kafka。
// 某条记录失败时本轮停止，后续记录不会越过它；
// 连续失败达到 maxAttempts 后转入死信主题。
type OutboxRelay struct {
	store       OutboxStore
	sender      Sender
	dlq         DeadLetterer
	recorder    RelayRecorder
	topic       string
	key         string
	maxAttempts int
	logger      *slog.Logger
}

// RelayOption 可选配置
type RelayOption func(*OutboxRelay)

func WithDeadLetter(dlq DeadLetterer, maxAttempts int) RelayOption {
	return func(r *OutboxRelay) {
		r.dlq = dlq
		r.maxAttempts = maxAttempts
	}
}

func WithRecorder(rec RelayRecorder) RelayOption {
	return func(r *OutboxRelay) { r.recorder = rec }
}

func NewOutboxRelay(store OutboxStore, sender Sender, topic, key string, logger *slog.Logger, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		store:  store,
		sender: sender,
		topic:  topic,
		key:    key,
		logger: logger.With("module", "outbox_relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RelayOnce 处理一批待发记录，返回成功与失败数
func (r *OutboxRelay) RelayOnce(ctx context.Context, batchSize int) (relayed, failed int, err error) {
	msgs, err := r.store.PendingOutbox(ctx, batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load outbox: %w", err)
	}
	defer func() {
		if r.recorder != nil {
			r.recorder.RecordOutbox(relayed, failed)
		}
	}()

	var sent []uint64
	for _, m := range msgs {
		km, encErr := m.Envelope().KafkaMessage(r.topic, r.key)
		if encErr == nil {
			encErr = r.sender.Send(ctx, km)
		}
		if encErr == nil {
			sent = append(sent, m.ID)
			continue
		}

		failed++
		if markErr := r.fail(ctx, m, encErr); markErr != nil {
			err = markErr
		}
		break
	}

	if len(sent) > 0 {
		if markErr := r.store.MarkOutboxSent(ctx, sent); markErr != nil {
			return 0, failed, fmt.Errorf("failed to mark outbox sent: %w", markErr)
		}
		relayed = len(sent)
	}
	return relayed, failed, err
}

func (r *OutboxRelay) fail(ctx context.Context, m OutboxMessage, cause error) error {
	attempts := m.Attempts + 1
	status := OutboxPending
	if r.dlq != nil && r.maxAttempts > 0 && attempts >= r.maxAttempts {
		original := &mq.Message{Topic: r.topic, Key: m.EventID, Value: []byte(m.Payload), Time: m.CreatedAt}
		if err := r.dlq.Send(ctx, original, "outbox relay attempts exhausted", cause); err != nil {
			r.logger.ErrorContext(ctx, "failed to dead-letter outbox message", "event_id", m.EventID, "error", err)
		} else {
			status = OutboxDead
		}
	}
	r.logger.WarnContext(ctx, "outbox delivery failed",
		"event_id", m.EventID,
		"event_type", m.EventType,
		"attempts", attempts,
		"status", status,
		"error", cause,
	)
	lastErr := cause.Error()
	if len(lastErr) > 512 {
		lastErr = lastErr[:512]
	}
	return r.store.MarkOutboxFailed(ctx, m.ID, attempts, lastErr, status)
}

// Cleanup 删除保留期之前已发送的记录
func (r *OutboxRelay) Cleanup(ctx context.Context, retain time.Duration) (int64, error) {
	n, err := r.store.CleanupOutbox(ctx, time.Now().Add(-retain))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup outbox: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "outbox cleaned", "deleted", n)
	}
	return n, nil
}
