package room

import (
	"context"
	"log"
	"sync"
	"time"

	"chatsync/internal/stream"
	"chatsync/internal/typing"
	"chatsync/internal/unread"
	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

// Session tracks which room the user is looking at and drives every
// side effect of moving between rooms: leave and join traffic, read
// marks, stream and typing resets, and the asynchronous history load.
// Ordering on entry is strict: the old room is left before the new one
// is joined, and the new room is marked read before its history starts
// loading.
type Session struct {
	transport interfaces.Transport
	backend   interfaces.Backend
	stream    *stream.Stream
	typing    *typing.Coordinator
	unread    *unread.Aggregator

	mu     sync.Mutex
	active string

	// loadSeq tags each Enter so a history load that resolves after a
	// newer Enter can be discarded.
	loadSeq uint64
}

// NewSession wires a session over its collaborators.
func NewSession(transport interfaces.Transport, backend interfaces.Backend, s *stream.Stream, t *typing.Coordinator, u *unread.Aggregator) *Session {
	return &Session{
		transport: transport,
		backend:   backend,
		stream:    s,
		typing:    t,
		unread:    u,
	}
}

// Active returns the room currently entered, empty if none.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Enter makes roomID the active room. Re-entering the active room
// sends no join or leave traffic and only re-fires the read mark;
// otherwise the previous room is left, the new one joined and marked
// read, and its history loads asynchronously. Wire failures while
// degraded are logged and non-fatal; the room still opens locally.
func (s *Session) Enter(ctx context.Context, roomID string) error {
	if !types.IsValidRoomID(roomID) {
		return ErrInvalidRoomID
	}

	s.mu.Lock()
	previous := s.active
	if previous == roomID {
		s.mu.Unlock()
		s.markAsRead(ctx, roomID)
		return nil
	}
	s.active = roomID
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	if previous != "" {
		if err := s.transport.Emit(types.EventLeaveQuestion, types.RoomPayload{RoomID: previous}); err != nil {
			log.Printf("Leave not sent: room=%s: %v", previous, err)
		}
	}

	s.stream.Reset(roomID)
	s.typing.Reset(roomID)

	if err := s.transport.Emit(types.EventJoinQuestion, types.RoomPayload{RoomID: roomID}); err != nil {
		log.Printf("Join not sent: room=%s: %v", roomID, err)
	}
	s.markAsRead(ctx, roomID)

	go s.loadHistory(ctx, roomID, seq)
	return nil
}

// Exit leaves the active room. Idempotent; a second Exit is a no-op.
func (s *Session) Exit() {
	s.mu.Lock()
	previous := s.active
	if previous == "" {
		s.mu.Unlock()
		return
	}
	s.active = ""
	s.loadSeq++
	s.mu.Unlock()

	if err := s.transport.Emit(types.EventLeaveQuestion, types.RoomPayload{RoomID: previous}); err != nil {
		log.Printf("Leave not sent: room=%s: %v", previous, err)
	}
	s.stream.Reset("")
	s.typing.Reset("")
}

// markAsRead updates all three read-state surfaces: the local unread
// counts, the relay's live view, and the persisted read mark. The two
// remote legs are fire-and-forget; drift self-corrects on the next
// successful call.
func (s *Session) markAsRead(ctx context.Context, roomID string) {
	s.unread.MarkRead(roomID, time.Now())

	if err := s.transport.Emit(types.EventMarkAsRead, types.RoomPayload{RoomID: roomID}); err != nil {
		log.Printf("Read mark not sent: room=%s: %v", roomID, err)
	}
	if err := s.backend.MarkAsRead(ctx, roomID); err != nil {
		log.Printf("Read mark not persisted: room=%s: %v", roomID, err)
	}
}

// loadHistory fetches the room's messages and merges them unless a
// newer Enter has superseded this load.
func (s *Session) loadHistory(ctx context.Context, roomID string, seq uint64) {
	msgs, err := s.backend.FetchHistory(ctx, roomID)

	s.mu.Lock()
	stale := seq != s.loadSeq
	s.mu.Unlock()
	if stale {
		log.Printf("Discarded superseded history load: room=%s", roomID)
		return
	}

	if err != nil {
		log.Printf("History load failed: room=%s: %v", roomID, err)
		s.stream.SetLoadError(roomID, err)
		return
	}
	s.stream.ApplyHistory(roomID, msgs)
}
