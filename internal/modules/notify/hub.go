// README: In-process broadcaster routing order status events to per-order rooms and the admin room.
package notify

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"quickcart/internal/modules/order"
	"quickcart/internal/observability"
	"quickcart/internal/types"
)

const sinkSocket = "ws"

// Event is the payload pushed to subscribers when an order changes status.
type Event struct {
	OrderID       types.ID     `json:"orderId"`
	OrderNumber   string       `json:"orderNumber,omitempty"`
	Status        order.Status `json:"status"`
	Reason        *string      `json:"reason,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	StatusVersion int          `json:"statusVersion"`
}

// Subscriber receives events. Deliver must not block; it reports false when the event
// could not be queued (buffer full, connection closed).
type Subscriber interface {
	Deliver(Event) bool
}

// Handle identifies one registration. The zero Handle is never issued.
type Handle struct {
	id      uint64
	orderID types.ID
	admin   bool
}

type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	rooms   map[types.ID]map[uint64]Subscriber
	admins  map[uint64]Subscriber
	log     *slog.Logger
	metrics *observability.Metrics
}

func NewHub(log *slog.Logger, metrics *observability.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:   make(map[types.ID]map[uint64]Subscriber),
		admins:  make(map[uint64]Subscriber),
		log:     log,
		metrics: metrics,
	}
}

var _ order.Notifier = (*Hub)(nil)

// Subscribe registers sub for events of one order.
func (h *Hub) Subscribe(orderID types.ID, sub Subscriber) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[uint64]Subscriber)
		h.rooms[orderID] = room
	}
	room[h.nextID] = sub
	h.metrics.AddSubscribers(1)
	return Handle{id: h.nextID, orderID: orderID}
}

// SubscribeAll registers sub in the admin room, which sees every order's events.
func (h *Hub) SubscribeAll(sub Subscriber) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	h.admins[h.nextID] = sub
	h.metrics.AddSubscribers(1)
	return Handle{id: h.nextID, admin: true}
}

// Unsubscribe removes a registration. Unknown or already removed handles are ignored.
func (h *Hub) Unsubscribe(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if handle.admin {
		if _, ok := h.admins[handle.id]; ok {
			delete(h.admins, handle.id)
			h.metrics.AddSubscribers(-1)
		}
		return
	}
	room, ok := h.rooms[handle.orderID]
	if !ok {
		return
	}
	if _, ok := room[handle.id]; !ok {
		return
	}
	delete(room, handle.id)
	if len(room) == 0 {
		delete(h.rooms, handle.orderID)
	}
	h.metrics.AddSubscribers(-1)
}

// Publish delivers ev to the order's room and the admin room without waiting on anyone.
// A pointer subscriber registered in both gets the event once. Publishing is serialized so
// every subscriber sees events in publish order.
func (h *Hub) Publish(ctx context.Context, ev Event) (delivered, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[any]struct{}, len(h.rooms[ev.OrderID])+len(h.admins))
	deliver := func(sub Subscriber) {
		if key, ok := identity(sub); ok {
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
		}
		if h.deliverOne(sub, ev) {
			delivered++
			h.metrics.ObserveNotification(sinkSocket, observability.NotifyDelivered)
			return
		}
		dropped++
		h.metrics.ObserveNotification(sinkSocket, observability.NotifyDropped)
		h.log.WarnContext(ctx, "notification delivery failed",
			"order_id", ev.OrderID, "status", ev.Status, "status_version", ev.StatusVersion)
	}
	for _, sub := range h.rooms[ev.OrderID] {
		deliver(sub)
	}
	for _, sub := range h.admins {
		deliver(sub)
	}
	return delivered, dropped
}

// deliverOne counts a panicking subscriber as a failed delivery.
func (h *Hub) deliverOne(sub Subscriber, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("subscriber panicked", "order_id", ev.OrderID, "panic", r)
			ok = false
		}
	}()
	return sub.Deliver(ev)
}

// identity returns a hashable key for subscribers with reference identity. Value
// subscribers may not be hashable and are never deduplicated.
func identity(sub Subscriber) (uintptr, bool) {
	v := reflect.ValueOf(sub)
	switch v.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Map, reflect.UnsafePointer:
		return v.Pointer(), true
	default:
		return 0, false
	}
}

// Notify adapts a committed status change into a broadcast. Delivery failures are
// counted and logged, never returned.
func (h *Hub) Notify(ctx context.Context, c order.StatusChange) error {
	h.Publish(ctx, EventFromChange(c))
	return nil
}

// Subscribers returns how many registrations exist for orderID (admin room excluded).
func (h *Hub) Subscribers(orderID types.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[orderID])
}

func EventFromChange(c order.StatusChange) Event {
	return Event{
		OrderID:       c.OrderID,
		OrderNumber:   c.OrderNumber,
		Status:        c.Status,
		Reason:        c.Reason,
		Timestamp:     c.At,
		StatusVersion: c.StatusVersion,
	}
}
