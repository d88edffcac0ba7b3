package websocket

import (
	"encoding/json"

	"estados/internal/events"
)

// Client to server message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeViewerOpen  = "viewer_open"
	TypeViewerKey   = "viewer_key"
	TypeViewerGoTo  = "viewer_goto"
	TypeViewerClose = "viewer_close"
	TypePing        = "ping"
)

// Server to client message types.
const (
	TypeChange       = "change"
	TypeViewerState  = "viewer_state"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypePong         = "pong"
)

// ClientMessage is one inbound frame. Only the fields of its type are set.
type ClientMessage struct {
	Type string `json:"type"`

	Table    events.Table `json:"table,omitempty"`
	EstadoID string       `json:"estado_id,omitempty"`

	Source      string `json:"source,omitempty"`
	UserIndex   int    `json:"user_index,omitempty"`
	StatusIndex int    `json:"status_index,omitempty"`
	Key         string `json:"key,omitempty"`
	Index       int    `json:"index,omitempty"`
}

// ServerMessage is one outbound frame.
type ServerMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func encode(msg ServerMessage) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		raw, _ = json.Marshal(ServerMessage{Type: TypeError, Error: "encode failed", Code: "INTERNAL_ERROR"})
	}
	return raw
}
