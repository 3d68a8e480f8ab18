package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickcart/internal/config"
	"quickcart/internal/modules/notify"
	"quickcart/internal/modules/order"
	"quickcart/internal/modules/pricing"
	"quickcart/internal/realtime"
	"quickcart/internal/types"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// flakyServer drops the first connection right after sending one update.
func flakyServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := conns.Add(1)

		var join realtime.Frame
		if err := ws.ReadJSON(&join); err != nil || join.Event != realtime.EventJoinOrderRoom {
			return
		}
		status := order.StatusAdminAccepted
		if n > 1 {
			status = order.StatusPreparing
		}
		b, _ := realtime.EncodeFrame(realtime.EventOrderStatusUpdate, notify.Event{OrderID: "o-1", Status: status, StatusVersion: int(n)})
		_ = ws.WriteMessage(websocket.TextMessage, b)
		if n == 1 {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestSocketReconnectsWithBackoff(t *testing.T) {
	srv, conns := flakyServer(t)

	var (
		mu         sync.Mutex
		events     []notify.Event
		states     []ConnState
		reconnects atomic.Int32
	)
	sock := NewSocket(SocketConfig{
		URL:     wsURL(srv, "/"),
		OrderID: "o-1",
		Backoff: Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		OnEvent: func(ev notify.Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		},
		OnState: func(s ConnState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		},
		OnReconnect: func() { reconnects.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sock.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, sock.State())
	assert.Equal(t, int32(2), conns.Load())
	assert.Equal(t, int32(1), reconnects.Load(), "first connect is not a reconnect")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not stop")
	}
	assert.Equal(t, StateDisconnected, sock.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, order.StatusAdminAccepted, events[0].Status)
	assert.Equal(t, order.StatusPreparing, events[1].Status)
	assert.Equal(t, []ConnState{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestSocketRetriesWhenServerIsDown(t *testing.T) {
	var attempts atomic.Int32
	sock := NewSocket(SocketConfig{
		URL:     "ws://127.0.0.1:1/ws",
		Backoff: Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond},
		OnState: func(s ConnState) {
			if s == StateConnecting {
				attempts.Add(1)
			}
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := sock.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts.Load(), int32(2))
	assert.Equal(t, StateDisconnected, sock.State())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", ConnState(9).String())
}

// TestWatchFollowsOrderToDelivery runs the whole client stack against the real gateway.
func TestWatchFollowsOrderToDelivery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := notify.NewHub(nil, nil)
	svc := order.NewService(order.NewMemoryStore(), pricing.NewService(nil), order.WithNotifier(hub))
	gw := realtime.NewGateway(hub, svc, config.RealtimeConfig{SendBuffer: 16, PingInterval: 5 * time.Second, WriteTimeout: time.Second}, nil, nil)
	r := gin.New()
	r.GET("/ws", gw.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	price := types.NewMoney(decimal.NewFromInt(99), "")
	o, err := svc.Create(context.Background(), order.CreateCommand{
		UserID:          "u1",
		Items:           []order.LineInput{{ProductID: "atta", Quantity: 1, UnitPrice: &price}},
		DeliveryAddress: types.Address{Line1: "4 Park Street", City: "Kolkata", PostalCode: "700016"},
	})
	require.NoError(t, err)

	// Polling only answers with the creation status so progress must come from pushes.
	fetcher := &fakeFetcher{}
	fetcher.set(order.StatusPendingAdminDecision, 0, nil)
	log := &changeLog{}

	var connected atomic.Bool
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := make(chan State, 1)
	go func() {
		st, err := Watch(ctx, WatchConfig{
			OrderID:   o.ID,
			Initial:   order.StatusPendingAdminDecision,
			SocketURL: wsURL(srv, "/ws"),
			Fetcher:   fetcher,
			Options:   Options{PollInterval: time.Hour, OnChange: log.record},
			OnState: func(s ConnState) {
				if s == StateConnected {
					connected.Store(true)
				}
			},
		})
		assert.NoError(t, err)
		result <- st
	}()

	require.Eventually(t, func() bool { return connected.Load() && hub.Subscribers(o.ID) == 1 }, 2*time.Second, 5*time.Millisecond)

	for _, s := range []order.Status{order.StatusAdminAccepted, order.StatusPreparing, order.StatusReadyForDelivery, order.StatusOutForDelivery, order.StatusDelivered} {
		_, err := svc.ApplyTransition(context.Background(), order.TransitionCommand{OrderID: o.ID, Status: s})
		require.NoError(t, err)
	}

	select {
	case st := <-result:
		assert.Equal(t, order.StatusDelivered, st.Status)
		assert.Equal(t, 5, st.StatusVersion)
	case <-ctx.Done():
		t.Fatal("watch did not finish at the terminal status")
	}

	changes := log.all()
	require.Len(t, changes, 5)
	for _, c := range changes {
		assert.Equal(t, SourcePush, c.Source)
	}
	require.Eventually(t, func() bool { return hub.Subscribers(o.ID) == 0 }, 2*time.Second, 5*time.Millisecond)
}
