package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestProducer_SendMessage(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, discard())

	require.NoError(t, p.SendMessage(context.Background(), "vault", "1", map[string]int{"epoch": 1}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "vault", w.msgs[0].Topic)
	assert.Equal(t, []byte("1"), w.msgs[0].Key)
	assert.JSONEq(t, `{"epoch":1}`, string(w.msgs[0].Value))

	require.NoError(t, p.Send(context.Background()))
	assert.Len(t, w.msgs, 1)
}

func TestProducer_SendError(t *testing.T) {
	p := NewProducerWithWriter(&memWriter{err: errors.New("broker down")}, discard())
	err := p.SendMessage(context.Background(), "vault", "k", "v")
	require.EqualError(t, err, "broker down")
}

func TestDeadLetterQueue(t *testing.T) {
	w := &memWriter{}
	dlq := NewDeadLetterQueue(NewProducerWithWriter(w, discard()), "vault.dlq")

	require.NoError(t, dlq.Send(context.Background(), &Message{Topic: "vault", Key: "e1", Value: []byte(`{"a":1}`)}, "max attempts", errors.New("timeout")))
	require.NoError(t, dlq.Send(context.Background(), &Message{Topic: "vault", Key: "e2", Value: []byte("not json")}, "bad", nil))
	require.Len(t, w.msgs, 2)

	var first DeadLetter
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &first))
	assert.Equal(t, "vault.dlq", w.msgs[0].Topic)
	assert.Equal(t, "vault", first.OriginalTopic)
	assert.JSONEq(t, `{"a":1}`, string(first.OriginalValue))
	assert.Equal(t, "timeout", first.Error)

	var second DeadLetter
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &second))
	assert.JSONEq(t, `"not json"`, string(second.OriginalValue))
	assert.Empty(t, second.Error)
}
