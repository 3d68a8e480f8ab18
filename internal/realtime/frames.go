// README: WebSocket frame envelope and event names shared by the gateway and the client.
package realtime

import (
	"encoding/json"

	"quickcart/internal/types"
)

const (
	EventJoinOrderRoom  = "join_order_room"
	EventLeaveOrderRoom = "leave_order_room"
	EventJoinAdminRoom  = "join_admin_room"

	EventOrderStatusUpdate = "order_status_update"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventError             = "error"

	AdminRoom = "admin"
)

// Frame is every message on the socket: {"event": name, "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RoomRequest struct {
	OrderID types.ID `json:"orderId"`
}

type RoomReply struct {
	Room string `json:"room"`
}

type ErrorReply struct {
	Message string `json:"message"`
}

func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func OrderRoom(id types.ID) string {
	return "order:" + string(id)
}
