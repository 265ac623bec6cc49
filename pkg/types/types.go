package types

import (
	"time"
)

// Transport event names. The first group is emitted by the client, the
// second is pushed by the server. Connect and Disconnect are local
// lifecycle events dispatched by the connection manager; they never
// appear on the wire.
const (
	EventJoinQuestion  = "join_question"
	EventLeaveQuestion = "leave_question"
	EventMarkAsRead    = "mark_as_read"
	EventTyping        = "typing"
	EventSendMessage   = "send_message"

	EventNewMessage   = "new_message"
	EventTypingStatus = "typing_status"
	EventConnectError = "connect_error"

	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// MessageType identifies the payload kind of a message.
type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeImage     MessageType = "image"
	MessageTypeFile      MessageType = "file"
	MessageTypePublicPDF MessageType = "public_pdf"
)

// Origin tracks how a message entered the local stream. A message is
// OriginLocalPending only between submission and first-echo-or-timeout;
// it resolves to OriginRemote when the server echoes it, or is created
// as OriginLocalConfirmed directly when sent in degraded mode.
type Origin string

const (
	OriginRemote         Origin = "remote"
	OriginLocalPending   Origin = "local_pending"
	OriginLocalConfirmed Origin = "local_confirmed"
)

// Message is one entry in a question thread.
// CreatedAt is authoritative once server-confirmed; for local origins it
// is the client clock. Failed marks an optimistic send whose
// acknowledgement window expired; it stays visible so callers can offer
// a retry.
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	SenderID  string      `json:"sender_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	FileURL   string      `json:"file_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Origin    Origin      `json:"origin"`
	Failed    bool        `json:"failed,omitempty"`
}

// Before reports whether m sorts ahead of other under the stream's
// (CreatedAt, ID) ordering.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Question is a single conversation thread between a customer and a
// counterpart. Stored by the relay; the sync core only carries its ID.
type Question struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionState is the transport lifecycle state. There is no
// automatic transition out of StateDegraded; only an explicit retry
// moves it back to StateConnecting.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// TypingState is the ephemeral per-peer typing indicator. It is never
// persisted; entries decay at ExpiresAt whether or not a stop-pulse
// arrives.
type TypingState struct {
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry has decayed at the given instant.
func (t TypingState) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
