package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/websocket"
	"chatsync/pkg/types"
)

// MessageStore is the slice of the database layer the router needs.
type MessageStore interface {
	GetQuestion(ctx context.Context, questionID string) (*types.Question, error)
	StoreMessage(ctx context.Context, message *types.Message) error
	UpdateReadState(ctx context.Context, questionID, userID string, readAt time.Time) error
}

// Router dispatches inbound frames: it maintains room membership,
// persists messages before fan-out, and relays typing pulses.
type Router struct {
	registry *websocket.Registry
	store    MessageStore
}

func NewRouter(registry *websocket.Registry, store MessageStore) *Router {
	return &Router{registry: registry, store: store}
}

// Route handles one frame from sender. Errors are returned to the
// caller for logging; delivery failures to individual recipients are
// logged here and do not fail the route.
func (r *Router) Route(ctx context.Context, sender *websocket.Connection, frame *types.Frame) error {
	switch frame.Event {
	case types.EventJoinQuestion:
		return r.handleJoin(ctx, sender, frame.Data)
	case types.EventLeaveQuestion:
		return r.handleLeave(sender, frame.Data)
	case types.EventSendMessage:
		return r.handleSendMessage(ctx, sender, frame.Data)
	case types.EventTyping:
		return r.handleTyping(sender, frame.Data)
	case types.EventMarkAsRead:
		return r.handleMarkAsRead(ctx, sender, frame.Data)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, frame.Event)
	}
}

func (r *Router) handleJoin(ctx context.Context, sender *websocket.Connection, data json.RawMessage) error {
	var payload types.RoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !types.IsValidRoomID(payload.RoomID) {
		return fmt.Errorf("%w: bad room id", ErrInvalidPayload)
	}
	if _, err := r.store.GetQuestion(ctx, payload.RoomID); err != nil {
		return fmt.Errorf("join rejected: %w", err)
	}
	return r.registry.Join(payload.RoomID, sender)
}

func (r *Router) handleLeave(sender *websocket.Connection, data json.RawMessage) error {
	var payload types.RoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	r.registry.Leave(payload.RoomID, sender)
	return nil
}

// handleSendMessage assigns the canonical identity and timestamp,
// persists, then fans out. The sender's copy carries the client id so
// the pending entry on that side can be resolved.
func (r *Router) handleSendMessage(ctx context.Context, sender *websocket.Connection, data json.RawMessage) error {
	var payload types.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !r.registry.IsMember(payload.RoomID, sender.UserID()) {
		return fmt.Errorf("%w: user=%s room=%s", ErrNotMember, sender.UserID(), payload.RoomID)
	}

	message := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    payload.RoomID,
		SenderID:  sender.UserID(),
		Content:   payload.Content,
		Type:      payload.Type,
		FileURL:   payload.FileURL,
		CreatedAt: time.Now().UTC(),
		Origin:    types.OriginRemote,
	}
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// Persist before routing so no recipient ever sees a message the
	// store does not have.
	if err := r.store.StoreMessage(ctx, message); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	// Deliver to every connected participant, not just current viewers,
	// so receivers can count unread for rooms they switched away from.
	for _, participant := range r.registry.ParticipantConnections(payload.RoomID) {
		out := types.NewMessagePayload{Message: *message}
		if participant.UserID() == sender.UserID() {
			out.ClientID = payload.ClientID
		}
		if err := participant.WriteFrame(types.EventNewMessage, out); err != nil {
			log.Printf("Message delivery failed: user=%s room=%s: %v", participant.UserID(), payload.RoomID, err)
		}
	}
	return nil
}

func (r *Router) handleTyping(sender *websocket.Connection, data json.RawMessage) error {
	var payload types.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !r.registry.IsMember(payload.RoomID, sender.UserID()) {
		return fmt.Errorf("%w: user=%s room=%s", ErrNotMember, sender.UserID(), payload.RoomID)
	}

	// Typing is ephemeral. Stamp the sender and relay to everyone else
	// in the room; nothing is persisted.
	payload.UserID = sender.UserID()
	for _, member := range r.registry.RoomMembers(payload.RoomID) {
		if member.UserID() == sender.UserID() {
			continue
		}
		if err := member.WriteFrame(types.EventTypingStatus, payload); err != nil {
			log.Printf("Typing delivery failed: user=%s room=%s: %v", member.UserID(), payload.RoomID, err)
		}
	}
	return nil
}

func (r *Router) handleMarkAsRead(ctx context.Context, sender *websocket.Connection, data json.RawMessage) error {
	var payload types.RoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !types.IsValidRoomID(payload.RoomID) {
		return fmt.Errorf("%w: bad room id", ErrInvalidPayload)
	}
	return r.store.UpdateReadState(ctx, payload.RoomID, sender.UserID(), time.Now().UTC())
}
