package stream

import (
	"log"
	"sort"
	"sync"
	"time"

	"chatsync/pkg/types"
)

// Stream is the ordered, deduplicated, append-only view of the active
// room's messages. It merges three sources that can interleave
// arbitrarily: the historical load, server pushes, and locally
// originated sends. Insertion is idempotent and keyed by message ID, so
// replaying an event or receiving the same message via history and push
// can never duplicate or reorder the view.
//
// State belongs exclusively to the currently active room; Reset clears
// everything on a room switch rather than merging across rooms.
type Stream struct {
	mu         sync.Mutex
	roomID     string
	byID       map[string]*types.Message
	ordered    []*types.Message
	pending    map[string]*pendingSend
	listeners  map[uint64]func()
	nextSub    uint64
	ackTimeout time.Duration
	loadErr    error
}

// pendingSend is an optimistic message awaiting its server echo. It is
// not part of the visible stream until it either resolves (echo) or
// expires (surfaced as failed).
type pendingSend struct {
	msg    *types.Message
	roomID string
	timer  *time.Timer
}

// New creates an empty stream. ackTimeout bounds how long an optimistic
// send may wait for its echo before being surfaced as failed.
func New(ackTimeout time.Duration) *Stream {
	return &Stream{
		byID:       make(map[string]*types.Message),
		pending:    make(map[string]*pendingSend),
		listeners:  make(map[uint64]func()),
		ackTimeout: ackTimeout,
	}
}

// Reset discards all state and scopes the stream to roomID. Pending ack
// timers for the previous room are cancelled, never fired.
func (s *Stream) Reset(roomID string) {
	s.mu.Lock()
	for _, p := range s.pending {
		p.timer.Stop()
	}
	s.roomID = roomID
	s.byID = make(map[string]*types.Message)
	s.ordered = nil
	s.pending = make(map[string]*pendingSend)
	s.loadErr = nil
	listeners := s.listenersLocked()
	s.mu.Unlock()

	fanOut(listeners)
}

// RoomID returns the room the stream is currently scoped to.
func (s *Stream) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Apply inserts one confirmed message. Returns true if the stream
// changed; duplicates and messages for other rooms are ignored.
func (s *Stream) Apply(msg *types.Message) bool {
	s.mu.Lock()
	if s.roomID == "" || msg.RoomID != s.roomID {
		s.mu.Unlock()
		return false
	}
	if _, exists := s.byID[msg.ID]; exists {
		s.mu.Unlock()
		return false
	}
	s.insertLocked(msg)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	fanOut(listeners)
	return true
}

// ApplyHistory merges a historical batch. The batch is fenced by the
// room it was requested for: a load that resolves after the caller has
// moved to a different room is discarded wholesale.
func (s *Stream) ApplyHistory(roomID string, msgs []*types.Message) bool {
	s.mu.Lock()
	if roomID != s.roomID {
		s.mu.Unlock()
		log.Printf("Discarded stale history load for room %s (active: %s)", roomID, s.roomID)
		return false
	}

	changed := false
	for _, msg := range msgs {
		if msg.RoomID != roomID {
			continue
		}
		if _, exists := s.byID[msg.ID]; exists {
			continue
		}
		s.insertLocked(msg)
		changed = true
	}
	s.loadErr = nil
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if changed {
		fanOut(listeners)
	}
	return true
}

// SetLoadError records a failed historical load for the given room. The
// stream stays usable (empty room, not an error state for merges); the
// error is surfaced to callers via LoadError.
func (s *Stream) SetLoadError(roomID string, err error) {
	s.mu.Lock()
	if roomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.loadErr = err
	listeners := s.listenersLocked()
	s.mu.Unlock()

	fanOut(listeners)
}

// LoadError returns the last historical-load failure for the active
// room, or nil.
func (s *Stream) LoadError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// TrackPending registers an optimistic send awaiting its server echo.
// The message is not visible until it resolves; if the ack window
// expires first it is inserted with Failed set so the caller can offer
// a retry. It is never silently dropped and never rerouted to the
// degraded path (that is reserved for connection-level state).
func (s *Stream) TrackPending(msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roomID == "" {
		return ErrNoActiveRoom
	}
	if msg.RoomID != s.roomID {
		return ErrRoomMismatch
	}

	clientID := msg.ID
	s.pending[clientID] = &pendingSend{
		msg:    msg,
		roomID: s.roomID,
		timer: time.AfterFunc(s.ackTimeout, func() {
			s.expirePending(clientID)
		}),
	}
	return nil
}

// Resolve consumes the server echo for a pending send: the pending
// entry (and any failed placeholder already surfaced for it) is removed
// and the canonical message inserted in its place.
func (s *Stream) Resolve(clientID string, canonical *types.Message) {
	s.mu.Lock()
	if p, exists := s.pending[clientID]; exists {
		p.timer.Stop()
		delete(s.pending, clientID)
	}
	if placeholder, exists := s.byID[clientID]; exists && placeholder.Origin == types.OriginLocalPending {
		s.removeLocked(placeholder)
	}

	changed := false
	if canonical.RoomID == s.roomID {
		if _, exists := s.byID[canonical.ID]; !exists {
			s.insertLocked(canonical)
			changed = true
		}
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if changed {
		fanOut(listeners)
	}
}

// CancelPending withdraws a pending send before its ack window expires,
// used when the transport rejects the emit and the send is rerouted to
// the degraded path instead.
func (s *Stream) CancelPending(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.pending[clientID]
	if !exists {
		return ErrNotPending
	}
	p.timer.Stop()
	delete(s.pending, clientID)
	return nil
}

// PendingCount reports how many optimistic sends are still awaiting
// their echo.
func (s *Stream) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Snapshot returns the ordered messages as copies, safe for the caller
// to hold across further merges.
func (s *Stream) Snapshot() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Message, len(s.ordered))
	for i, msg := range s.ordered {
		out[i] = *msg
	}
	return out
}

// Len returns the number of visible messages.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ordered)
}

// Subscribe registers a change listener invoked after every mutation.
// The returned token unregisters it via Unsubscribe; callers must do so
// on teardown.
func (s *Stream) Subscribe(fn func()) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	s.listeners[s.nextSub] = fn
	return s.nextSub
}

// Unsubscribe removes a change listener. Idempotent.
func (s *Stream) Unsubscribe(sub uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, sub)
}

// expirePending fires when a pending send's ack window lapses. If the
// caller has since moved rooms the send is dropped; otherwise it is
// surfaced in the stream flagged as failed.
func (s *Stream) expirePending(clientID string) {
	s.mu.Lock()
	p, exists := s.pending[clientID]
	if !exists {
		s.mu.Unlock()
		return
	}
	delete(s.pending, clientID)

	if p.roomID != s.roomID {
		s.mu.Unlock()
		return
	}

	p.msg.Failed = true
	s.insertLocked(p.msg)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	log.Printf("Send acknowledgement timed out: client_id=%s room=%s", clientID, p.roomID)
	fanOut(listeners)
}

// insertLocked places msg preserving the (CreatedAt, ID) sort order.
func (s *Stream) insertLocked(msg *types.Message) {
	idx := sort.Search(len(s.ordered), func(i int) bool {
		return msg.Before(s.ordered[i])
	})
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[idx+1:], s.ordered[idx:])
	s.ordered[idx] = msg
	s.byID[msg.ID] = msg
}

func (s *Stream) removeLocked(msg *types.Message) {
	delete(s.byID, msg.ID)
	for i, m := range s.ordered {
		if m.ID == msg.ID {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			return
		}
	}
}

// listenersLocked copies the listener set so callbacks run outside the
// stream lock and may safely call back into the stream.
func (s *Stream) listenersLocked() []func() {
	out := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func fanOut(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}
