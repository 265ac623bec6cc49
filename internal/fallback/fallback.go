package fallback

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/stream"
	"chatsync/pkg/types"
)

// Fallback is the degraded-mode send path. When no live channel exists
// a send skips the wire entirely: the message is synthesized locally
// with a client-generated ID and a local-clock timestamp and merged
// into the stream as already confirmed. Nothing is queued for replay;
// reconnecting does not publish these messages to peers.
type Fallback struct {
	selfID string
	stream *stream.Stream
	clock  func() time.Time
}

// New creates a fallback writing into s on behalf of selfID.
func New(selfID string, s *stream.Stream) *Fallback {
	return &Fallback{selfID: selfID, stream: s, clock: time.Now}
}

// Send synthesizes and merges one local-only message for the stream's
// active room. Visibility is synchronous: the message is in the stream
// when Send returns.
func (f *Fallback) Send(content string, msgType types.MessageType, fileURL string) (*types.Message, error) {
	roomID := f.stream.RoomID()
	if roomID == "" {
		return nil, stream.ErrNoActiveRoom
	}

	msg := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  f.selfID,
		Content:   content,
		Type:      msgType,
		FileURL:   fileURL,
		CreatedAt: f.clock(),
		Origin:    types.OriginLocalConfirmed,
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	f.stream.Apply(msg)
	log.Printf("Message stored locally while degraded: room=%s id=%s", roomID, msg.ID)
	return msg, nil
}
