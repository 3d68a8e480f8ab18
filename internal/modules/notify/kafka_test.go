package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickcart/internal/modules/order"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() ([]kafka.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...), w.closed
}

func TestKafkaPublisherWritesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, 8, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	reason := "Out of stock"
	c := order.StatusChange{
		OrderID: "o-1", UserID: "u1", OrderNumber: "QC000001",
		From: order.StatusPendingAdminDecision, Status: order.StatusRejectedByAdmin,
		StatusVersion: 1, Reason: &reason, At: time.Now().UTC(),
	}
	require.NoError(t, p.Notify(context.Background(), c))

	require.Eventually(t, func() bool {
		msgs, _ := w.snapshot()
		return len(msgs) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	p.Wait()

	msgs, closed := w.snapshot()
	assert.True(t, closed)
	assert.Equal(t, "o-1", string(msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
	assert.Equal(t, EventTypeStatusChange, env.Type)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, order.StatusRejectedByAdmin, env.Payload.Status)
	assert.Equal(t, order.StatusPendingAdminDecision, env.Payload.FromStatus)
	require.NotNil(t, env.Payload.Reason)
	assert.Equal(t, reason, *env.Payload.Reason)
}

func TestKafkaPublisherFullBufferDoesNotBlock(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{}, 1, nil, nil)
	c := order.StatusChange{OrderID: "o-1", Status: order.StatusAdminAccepted, StatusVersion: 1}

	require.NoError(t, p.Notify(context.Background(), c))
	err := p.Notify(context.Background(), c)
	assert.ErrorIs(t, err, ErrPublisherBusy)
}

func TestKafkaPublisherFlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, 8, nil, nil)
	for i := 1; i <= 3; i++ {
		require.NoError(t, p.Notify(context.Background(), order.StatusChange{OrderID: "o-1", StatusVersion: i}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	msgs, closed := w.snapshot()
	assert.True(t, closed)
	assert.Len(t, msgs, 3)
}

func TestKafkaPublisherWriteErrorIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w, 8, nil, nil)
	require.NoError(t, p.Notify(context.Background(), order.StatusChange{OrderID: "o-1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	msgs, _ := w.snapshot()
	assert.Empty(t, msgs)
}
