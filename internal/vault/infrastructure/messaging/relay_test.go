package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
	"github.com/wyfcoding/optionvault/pkg/mq"
)

type memStore struct {
	msgs    []OutboxMessage
	cleaned time.Time
}

func (s *memStore) PendingOutbox(_ context.Context, limit int) ([]OutboxMessage, error) {
	var out []OutboxMessage
	for _, m := range s.msgs {
		if m.Status == OutboxPending && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) MarkOutboxSent(_ context.Context, ids []uint64) error {
	for _, id := range ids {
		s.find(id).Status = OutboxSent
	}
	return nil
}

func (s *memStore) MarkOutboxFailed(_ context.Context, id uint64, attempts int, lastErr, status string) error {
	m := s.find(id)
	m.Attempts, m.LastError, m.Status = attempts, lastErr, status
	return nil
}

func (s *memStore) CleanupOutbox(_ context.Context, before time.Time) (int64, error) {
	s.cleaned = before
	var n int64
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.Status == OutboxSent {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	return n, nil
}

func (s *memStore) find(id uint64) *OutboxMessage {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return &s.msgs[i]
		}
	}
	return nil
}

// flakySender 在发送 failOn 对应的事件时失败
type flakySender struct {
	sent   []kafka.Message
	failOn string
}

func (s *flakySender) Send(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		for _, h := range m.Headers {
			if h.Key == "event_id" && string(h.Value) == s.failOn {
				return errors.New("leader not available")
			}
		}
	}
	s.sent = append(s.sent, msgs...)
	return nil
}

type memDLQ struct{ letters []*mq.Message }

func (d *memDLQ) Send(_ context.Context, original *mq.Message, _ string, _ error) error {
	d.letters = append(d.letters, original)
	return nil
}

type counts struct{ relayed, failed int }

func (c *counts) RecordOutbox(relayed, failed int) { c.relayed += relayed; c.failed += failed }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func outboxFixture(t *testing.T) *memStore {
	t.Helper()
	user := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	events := []domain.Event{
		domain.DepositEvent{Epoch: 1, Strike: 8_000_000_000, User: user, Amount: decimal.NewFromInt(1)},
		domain.DepositEvent{Epoch: 1, Strike: 8_000_000_000, User: user, Amount: decimal.NewFromInt(2)},
		domain.EpochExpiredEvent{Epoch: 1},
	}
	msgs, err := NewOutboxMessages(events)
	require.NoError(t, err)
	for i := range msgs {
		msgs[i].ID = uint64(i + 1)
	}
	return &memStore{msgs: msgs}
}

func TestNewOutboxMessages(t *testing.T) {
	store := outboxFixture(t)
	require.Len(t, store.msgs, 3)
	assert.Equal(t, domain.DepositEventType, store.msgs[0].EventType)
	assert.Equal(t, uint64(1), store.msgs[0].Epoch)
	assert.NotEqual(t, store.msgs[0].EventID, store.msgs[1].EventID)
	assert.Equal(t, OutboxPending, store.msgs[2].Status)
	assert.True(t, json.Valid([]byte(store.msgs[0].Payload)))
}

func TestOutboxRelay_InOrder(t *testing.T) {
	store := outboxFixture(t)
	sender := &flakySender{}
	rec := &counts{}
	relay := NewOutboxRelay(store, sender, "vault.events", "DPX", discard(), WithRecorder(rec))

	relayed, failed, err := relay.RelayOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, relayed)
	assert.Zero(t, failed)
	require.Len(t, sender.sent, 3)
	assert.Equal(t, []byte("DPX"), sender.sent[0].Key)

	var env EventEnvelope
	require.NoError(t, json.Unmarshal(sender.sent[2].Value, &env))
	assert.Equal(t, domain.EpochExpiredEventType, env.EventType)
	assert.Equal(t, store.msgs[2].EventID, env.EventID)
	assert.Equal(t, counts{relayed: 3}, *rec)

	relayed, _, err = relay.RelayOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, relayed)
}

func TestOutboxRelay_HeadOfLineFailure(t *testing.T) {
	store := outboxFixture(t)
	sender := &flakySender{failOn: store.msgs[1].EventID}
	dlq := &memDLQ{}
	relay := NewOutboxRelay(store, sender, "vault.events", "DPX", discard(), WithDeadLetter(dlq, 2))

	relayed, failed, err := relay.RelayOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, relayed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, OutboxSent, store.msgs[0].Status)
	assert.Equal(t, OutboxPending, store.msgs[1].Status)
	assert.Equal(t, 1, store.msgs[1].Attempts)
	assert.Equal(t, "leader not available", store.msgs[1].LastError)
	assert.Equal(t, OutboxPending, store.msgs[2].Status, "later events never overtake a failed one")
	assert.Empty(t, dlq.letters)

	// 第二次失败达到上限，转入死信后继续投递后续事件
	_, failed, err = relay.RelayOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, OutboxDead, store.msgs[1].Status)
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, store.msgs[1].EventID, dlq.letters[0].Key)

	relayed, _, err = relay.RelayOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, relayed)
	assert.Equal(t, OutboxSent, store.msgs[2].Status)
}

func TestOutboxRelay_Cleanup(t *testing.T) {
	store := outboxFixture(t)
	relay := NewOutboxRelay(store, &flakySender{}, "vault.events", "DPX", discard())
	_, _, err := relay.RelayOnce(context.Background(), 2)
	require.NoError(t, err)

	n, err := relay.Cleanup(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, store.msgs, 1)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), store.cleaned, time.Minute)
}

func TestKafkaEventPublisher(t *testing.T) {
	sender := &flakySender{}
	pub := NewKafkaEventPublisher(sender, "vault.events", "DPX")

	err := pub.Publish(context.Background(),
		domain.EpochExpiredEvent{Epoch: 3},
		domain.CompoundEvent{Epoch: 3, Staked: decimal.NewFromInt(4)},
	)
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "vault.events", sender.sent[0].Topic)

	var env EventEnvelope
	require.NoError(t, json.Unmarshal(sender.sent[1].Value, &env))
	assert.Equal(t, domain.CompoundEventType, env.EventType)
	assert.Equal(t, uint64(3), env.Epoch)
	assert.Contains(t, string(env.Payload), `"staked":"4"`)
}
