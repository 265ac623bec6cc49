package types

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire envelope for every websocket event in both
// directions: an event name plus a raw payload decoded by the receiver.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame with the payload marshaled in place.
func NewFrame(event string, payload interface{}) (*Frame, error) {
	if payload == nil {
		return &Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return &Frame{Event: event, Data: data}, nil
}

// RoomPayload carries a bare room reference, used by join_question,
// leave_question and mark_as_read.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// TypingPayload is the typing pulse in both directions. UserID is blank
// on the client->server leg; the relay stamps the sender before fan-out.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// SendMessagePayload is an optimistic send. ClientID is the temporary
// client-generated id; the server assigns the canonical id and echoes
// ClientID back to the sender so the pending entry can be resolved.
type SendMessagePayload struct {
	ClientID string      `json:"client_id"`
	RoomID   string      `json:"room_id"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	FileURL  string      `json:"file_url,omitempty"`
}

// NewMessagePayload is a server push of one confirmed message. ClientID
// is set only on the copy delivered to the original sender.
type NewMessagePayload struct {
	Message  Message `json:"message"`
	ClientID string  `json:"client_id,omitempty"`
}

// Connect error codes carried by ConnectErrorPayload.
const (
	ConnectErrorAuthFailed = "auth_failed"
	ConnectErrorTransport  = "transport"
)

// ConnectErrorPayload is pushed by the server when a connection is being
// rejected. Code distinguishes fatal authentication failures from
// recoverable transport problems.
type ConnectErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
