// README: WebSocket gateway; one reader and one writer goroutine per connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quickcart/internal/config"
	"quickcart/internal/modules/notify"
	"quickcart/internal/modules/order"
	"quickcart/internal/observability"
	"quickcart/internal/types"
)

const maxFrameBytes = 4 << 10

// Rooms is the subscription side of the broadcaster.
type Rooms interface {
	Subscribe(orderID types.ID, sub notify.Subscriber) notify.Handle
	SubscribeAll(sub notify.Subscriber) notify.Handle
	Unsubscribe(h notify.Handle)
}

// OrderLookup is used to validate joins and to send the current status right after joining.
type OrderLookup interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

type Gateway struct {
	rooms    Rooms
	orders   OrderLookup
	cfg      config.RealtimeConfig
	log      *slog.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func NewGateway(rooms Rooms, orders OrderLookup, cfg config.RealtimeConfig, log *slog.Logger, metrics *observability.Metrics) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Gateway{
		rooms:   rooms,
		orders:  orders,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile apps and the dashboard connect from arbitrary origins; auth is handled upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and serves the connection until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	g.Serve(ws)
}

// Serve runs the connection. It returns once the peer is gone.
func (g *Gateway) Serve(ws *websocket.Conn) {
	conn := &connection{
		gw:      g,
		ws:      ws,
		send:    make(chan []byte, g.cfg.SendBuffer),
		handles: make(map[types.ID]notify.Handle),
	}
	g.metrics.AddConnections(1)
	g.log.Debug("websocket connected", "remote", ws.RemoteAddr().String())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump()
	}()

	conn.readLoop()
	conn.shutdown()
	<-writerDone

	g.metrics.AddConnections(-1)
	g.log.Debug("websocket disconnected", "remote", ws.RemoteAddr().String())
}

// connection is one socket. It is the notify.Subscriber for every room it joins.
type connection struct {
	gw *Gateway
	ws *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool

	// Only the read goroutine touches the room handles. The hub calls Deliver while
	// holding its own lock, so subscribing must never happen under mu.
	handles map[types.ID]notify.Handle
	admin   *notify.Handle
}

var _ notify.Subscriber = (*connection)(nil)

func (c *connection) Deliver(ev notify.Event) bool {
	b, err := EncodeFrame(EventOrderStatusUpdate, ev)
	if err != nil {
		return false
	}
	return c.enqueue(b)
}

func (c *connection) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *connection) reply(event string, data any) {
	b, err := EncodeFrame(event, data)
	if err != nil {
		return
	}
	if !c.enqueue(b) {
		c.gw.log.Warn("websocket reply dropped", "event", event)
	}
}

func (c *connection) readLoop() {
	pongWait := 2 * c.gw.cfg.PingInterval
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(EventError, ErrorReply{Message: "malformed frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.gw.log.Debug("websocket read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(f)
	}
}

func (c *connection) handle(f Frame) {
	switch f.Event {
	case EventJoinOrderRoom:
		req, ok := c.roomRequest(f)
		if !ok {
			return
		}
		c.joinOrder(req.OrderID)
	case EventLeaveOrderRoom:
		req, ok := c.roomRequest(f)
		if !ok {
			return
		}
		c.leaveOrder(req.OrderID)
	case EventJoinAdminRoom:
		c.joinAdmin()
	default:
		c.reply(EventError, ErrorReply{Message: "unknown event " + f.Event})
	}
}

func (c *connection) roomRequest(f Frame) (RoomRequest, bool) {
	var req RoomRequest
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &req); err != nil {
			c.reply(EventError, ErrorReply{Message: "malformed " + f.Event + " payload"})
			return req, false
		}
	}
	if req.OrderID == "" {
		c.reply(EventError, ErrorReply{Message: "orderId is required"})
		return req, false
	}
	return req, true
}

// joinOrder subscribes before reading the snapshot so a transition committed in between
// is pushed rather than lost. The client may then see the snapshot after a newer push and
// keeps the higher statusVersion.
func (c *connection) joinOrder(id types.ID) {
	_, rejoin := c.handles[id]
	if !rejoin {
		c.handles[id] = c.gw.rooms.Subscribe(id, c)
	}

	var current *order.Order
	if c.gw.orders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.gw.cfg.WriteTimeout)
		o, err := c.gw.orders.Get(ctx, id)
		cancel()
		switch {
		case errors.Is(err, order.ErrNotFound):
			if !rejoin {
				c.gw.rooms.Unsubscribe(c.handles[id])
				delete(c.handles, id)
			}
			c.reply(EventError, ErrorReply{Message: "order not found"})
			return
		case err != nil:
			c.gw.log.Warn("order lookup on join failed", "order_id", id, "err", err)
		default:
			current = o
		}
	}

	c.reply(EventRoomJoined, RoomReply{Room: OrderRoom(id)})
	// Joining doubles as catch-up: the client learns the status it may have missed.
	if current != nil {
		c.Deliver(notify.Event{
			OrderID:       current.ID,
			OrderNumber:   current.OrderNumber,
			Status:        current.Status,
			Reason:        current.RejectionReason,
			Timestamp:     current.UpdatedAt,
			StatusVersion: current.StatusVersion,
		})
	}
}

func (c *connection) leaveOrder(id types.ID) {
	h, ok := c.handles[id]
	delete(c.handles, id)
	if ok {
		c.gw.rooms.Unsubscribe(h)
	}
	c.reply(EventRoomLeft, RoomReply{Room: OrderRoom(id)})
}

func (c *connection) joinAdmin() {
	if c.admin == nil {
		h := c.gw.rooms.SubscribeAll(c)
		c.admin = &h
	}
	c.reply(EventRoomJoined, RoomReply{Room: AdminRoom})
}

// shutdown unsubscribes everywhere and stops the writer.
func (c *connection) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	for _, h := range c.handles {
		c.gw.rooms.Unsubscribe(h)
	}
	if c.admin != nil {
		c.gw.rooms.Unsubscribe(*c.admin)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.gw.log.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
