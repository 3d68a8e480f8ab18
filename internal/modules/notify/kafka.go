// README: Asynchronous Kafka publisher for order status changes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"quickcart/internal/modules/order"
	"quickcart/internal/observability"
	"quickcart/internal/types"
)

const (
	sinkKafka             = "kafka"
	EventTypeStatusChange = "order.status.changed"
	flushTimeout          = 5 * time.Second
)

var ErrPublisherBusy = errors.New("kafka publisher buffer full")

// Envelope is the message value written to the status topic.
type Envelope struct {
	EventID    string               `json:"event_id"`
	Type       string               `json:"type"`
	OccurredAt time.Time            `json:"occurred_at"`
	Payload    StatusChangedPayload `json:"payload"`
}

type StatusChangedPayload struct {
	OrderID       types.ID     `json:"order_id"`
	OrderNumber   string       `json:"order_number"`
	UserID        types.ID     `json:"user_id"`
	FromStatus    order.Status `json:"from_status"`
	Status        order.Status `json:"status"`
	StatusVersion int          `json:"status_version"`
	Reason        *string      `json:"reason,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w       messageWriter
	inbox   chan kafka.Message
	done    chan struct{}
	log     *slog.Logger
	metrics *observability.Metrics
}

// NewKafkaPublisher buffers up to buf messages; Run must be started to drain them.
func NewKafkaPublisher(w messageWriter, buf int, log *slog.Logger, metrics *observability.Metrics) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	if buf <= 0 {
		buf = 256
	}
	return &KafkaPublisher{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		done:    make(chan struct{}),
		log:     log,
		metrics: metrics,
	}
}

var _ order.Notifier = (*KafkaPublisher)(nil)

// Notify enqueues the change without blocking the transition path.
func (p *KafkaPublisher) Notify(_ context.Context, c order.StatusChange) error {
	value, err := json.Marshal(Envelope{
		EventID:    uuid.NewString(),
		Type:       EventTypeStatusChange,
		OccurredAt: c.At,
		Payload: StatusChangedPayload{
			OrderID:       c.OrderID,
			OrderNumber:   c.OrderNumber,
			UserID:        c.UserID,
			FromStatus:    c.From,
			Status:        c.Status,
			StatusVersion: c.StatusVersion,
			Reason:        c.Reason,
		},
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(c.OrderID),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeStatusChange)},
		},
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		p.metrics.ObserveNotification(sinkKafka, observability.NotifyDropped)
		return ErrPublisherBusy
	}
}

// Run writes queued messages until ctx is done, then flushes what is left and closes the writer.
func (p *KafkaPublisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.flush()
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka writer close failed", "err", err)
			}
			return
		case m := <-p.inbox:
			p.write(ctx, m)
		}
	}
}

// Wait blocks until Run has returned.
func (p *KafkaPublisher) Wait() { <-p.done }

func (p *KafkaPublisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case m := <-p.inbox:
			p.write(ctx, m)
		default:
			return
		}
	}
}

func (p *KafkaPublisher) write(ctx context.Context, m kafka.Message) {
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.metrics.ObserveNotification(sinkKafka, observability.NotifyFailed)
		p.log.Warn("kafka publish failed", "order_id", string(m.Key), "err", err)
		return
	}
	p.metrics.ObserveNotification(sinkKafka, observability.NotifyDelivered)
}
