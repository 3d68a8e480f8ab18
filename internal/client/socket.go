// README: Supervised websocket connection with observable state and reconnect backoff.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"quickcart/internal/modules/notify"
	"quickcart/internal/realtime"
	"quickcart/internal/types"
)

// ConnState is the observable state of a Socket.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type SocketConfig struct {
	// URL of the gateway, e.g. ws://localhost:8080/ws.
	URL string
	// OrderID is joined after every connect. Empty joins nothing.
	OrderID types.ID
	// Admin joins the admin room after every connect.
	Admin bool

	Backoff Backoff
	Dialer  *websocket.Dialer
	Logger  *slog.Logger

	OnEvent     func(notify.Event)
	OnState     func(ConnState)
	OnReconnect func()
}

type Socket struct {
	cfg   SocketConfig
	state atomic.Int32
}

func NewSocket(cfg SocketConfig) *Socket {
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Socket{cfg: cfg}
}

func (s *Socket) State() ConnState {
	return ConnState(s.state.Load())
}

// Run keeps a connection open until ctx is done. Every connect after the first one
// triggers OnReconnect so the caller can catch up on missed updates.
func (s *Socket) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	attempt := 0
	connected := false
	for {
		s.setState(StateConnecting)
		err := s.session(ctx, func() {
			attempt = 0
			if connected && s.cfg.OnReconnect != nil {
				s.cfg.OnReconnect()
			}
			connected = true
		})
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.cfg.Backoff.Delay(attempt)
		attempt++
		s.cfg.Logger.Debug("websocket disconnected", "err", err, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session dials, joins the configured rooms and reads until the connection drops.
func (s *Socket) session(ctx context.Context, onConnected func()) error {
	ws, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if s.cfg.OrderID != "" {
		if err := writeFrame(ws, realtime.EventJoinOrderRoom, realtime.RoomRequest{OrderID: s.cfg.OrderID}); err != nil {
			return err
		}
	}
	if s.cfg.Admin {
		if err := writeFrame(ws, realtime.EventJoinAdminRoom, struct{}{}); err != nil {
			return err
		}
	}

	s.setState(StateConnected)
	onConnected()

	for {
		var f realtime.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Event {
		case realtime.EventOrderStatusUpdate:
			var ev notify.Event
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				s.cfg.Logger.Warn("bad status update frame", "err", err)
				continue
			}
			if s.cfg.OnEvent != nil {
				s.cfg.OnEvent(ev)
			}
		case realtime.EventError:
			var e realtime.ErrorReply
			_ = json.Unmarshal(f.Data, &e)
			s.cfg.Logger.Warn("gateway reported error", "message", e.Message)
		}
	}
}

func (s *Socket) setState(st ConnState) {
	if ConnState(s.state.Swap(int32(st))) == st {
		return
	}
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

func writeFrame(ws *websocket.Conn, event string, data any) error {
	b, err := realtime.EncodeFrame(event, data)
	if err != nil {
		return err
	}
	if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}
