package unread

import (
	"sync"
	"time"

	"chatsync/pkg/types"
)

// Aggregator counts unseen messages per room. A message counts as
// unread when it comes from another user and postdates the room's last
// read mark. Observation is passive: the aggregator sees every
// new_message regardless of which room is active, and only the room
// session advances the read mark.
type Aggregator struct {
	selfID string

	mu       sync.Mutex
	lastRead map[string]time.Time
	unread   map[string]map[string]time.Time // roomID -> messageID -> CreatedAt
	onChange func()
}

// NewAggregator creates an aggregator that never counts selfID's own
// messages. onChange fires after every count change and may be nil.
func NewAggregator(selfID string, onChange func()) *Aggregator {
	return &Aggregator{
		selfID:   selfID,
		lastRead: make(map[string]time.Time),
		unread:   make(map[string]map[string]time.Time),
		onChange: onChange,
	}
}

// Observe records one delivered message. Own messages, duplicates, and
// messages at or before the room's read mark are ignored.
func (a *Aggregator) Observe(msg *types.Message) {
	if msg.SenderID == a.selfID {
		return
	}

	a.mu.Lock()
	if !msg.CreatedAt.After(a.lastRead[msg.RoomID]) {
		a.mu.Unlock()
		return
	}

	room, exists := a.unread[msg.RoomID]
	if !exists {
		room = make(map[string]time.Time)
		a.unread[msg.RoomID] = room
	}
	if _, seen := room[msg.ID]; seen {
		a.mu.Unlock()
		return
	}
	room[msg.ID] = msg.CreatedAt
	notify := a.onChange
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// MarkRead advances the room's read mark to at and drops every counted
// message at or before it. Moving the mark backwards is a no-op.
func (a *Aggregator) MarkRead(roomID string, at time.Time) {
	a.mu.Lock()
	if !at.After(a.lastRead[roomID]) {
		a.mu.Unlock()
		return
	}
	a.lastRead[roomID] = at

	changed := false
	for id, createdAt := range a.unread[roomID] {
		if !createdAt.After(at) {
			delete(a.unread[roomID], id)
			changed = true
		}
	}
	if len(a.unread[roomID]) == 0 {
		delete(a.unread, roomID)
	}
	notify := a.onChange
	a.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
}

// Seed rebuilds one room's counts from the backend's authoritative
// state: the persisted read mark plus the room's full history. Used
// after pushes were missed (fresh start, reconnect). The mark only
// moves forward; messages already counted from live pushes dedupe by
// id, so seeding over live observation is safe in either order.
func (a *Aggregator) Seed(roomID string, readAt time.Time, msgs []*types.Message) {
	a.mu.Lock()
	if readAt.After(a.lastRead[roomID]) {
		a.lastRead[roomID] = readAt
	}
	mark := a.lastRead[roomID]

	room := a.unread[roomID]
	changed := false
	for _, msg := range msgs {
		if msg.SenderID == a.selfID || !msg.CreatedAt.After(mark) {
			continue
		}
		if room == nil {
			room = make(map[string]time.Time)
			a.unread[roomID] = room
		}
		if _, seen := room[msg.ID]; seen {
			continue
		}
		room[msg.ID] = msg.CreatedAt
		changed = true
	}
	// The advanced mark may retire entries counted before seeding.
	for id, createdAt := range room {
		if !createdAt.After(mark) {
			delete(room, id)
			changed = true
		}
	}
	if len(room) == 0 {
		delete(a.unread, roomID)
	}
	notify := a.onChange
	a.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
}

// Count returns the unread count for one room.
func (a *Aggregator) Count(roomID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.unread[roomID])
}

// Total returns the unread count summed across all rooms.
func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, room := range a.unread {
		total += len(room)
	}
	return total
}

// LastRead returns the room's read mark, zero if never marked.
func (a *Aggregator) LastRead(roomID string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRead[roomID]
}
