package websocket

import (
	"log"
	"sync"
)

// Registry tracks live connections, active room membership, and room
// participation. Membership is the "currently viewing" set and is
// dropped on leave; participation is sticky, so users keep receiving a
// question's messages after switching away. Pure bookkeeping: routing
// decisions live in the router, socket lifecycle in the handler.
type Registry struct {
	mu           sync.RWMutex
	users        map[string]*Connection            // userID -> connection
	rooms        map[string]map[string]*Connection // roomID -> userID -> connection
	participants map[string]map[string]bool        // roomID -> userID set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users:        make(map[string]*Connection),
		rooms:        make(map[string]map[string]*Connection),
		participants: make(map[string]map[string]bool),
	}
}

// Register adds a connection to the user map. A second connection for
// the same user replaces the first, which is closed asynchronously so
// registration never blocks on a dying socket.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.users[conn.userID]; exists {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: %v", err)
			}
		}()
	}
	r.users[conn.userID] = conn
	return nil
}

// Unregister removes a connection from the user map and every room it
// joined. Idempotent, and guarded by instance: a stale connection
// cannot unregister its replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.users[conn.userID]
	if !exists || registered != conn {
		return
	}
	delete(r.users, conn.userID)

	for roomID, members := range r.rooms {
		if members[conn.userID] == conn {
			delete(members, conn.userID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
}

// Join adds the connection to a room's member set and records the user
// as a participant. Participation is not undone by Leave or Unregister.
func (r *Registry) Join(roomID string, conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Connection)
	}
	r.rooms[roomID][conn.userID] = conn

	if r.participants[roomID] == nil {
		r.participants[roomID] = make(map[string]bool)
	}
	r.participants[roomID][conn.userID] = true
	return nil
}

// Leave removes the connection from a room's member set. Idempotent.
func (r *Registry) Leave(roomID string, conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if members, exists := r.rooms[roomID]; exists {
		if members[conn.userID] == conn {
			delete(members, conn.userID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
}

// IsMember reports whether the user is joined to the room.
func (r *Registry) IsMember(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.rooms[roomID]
	if !exists {
		return false
	}
	_, member := members[userID]
	return member
}

// UserConnection returns the live connection for a user.
func (r *Registry) UserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.users[userID]
	return conn, exists
}

// RoomMembers returns every connection joined to the room.
func (r *Registry) RoomMembers(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	connections := make([]*Connection, 0, len(members))
	for _, conn := range members {
		connections = append(connections, conn)
	}
	return connections
}

// ParticipantConnections returns the live connection of every user who
// has ever joined the room, whether or not they are currently viewing
// it. Message delivery uses this set so unread counts keep accruing on
// clients that switched rooms.
func (r *Registry) ParticipantConnections(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := r.participants[roomID]
	connections := make([]*Connection, 0, len(participants))
	for userID := range participants {
		if conn, online := r.users[userID]; online {
			connections = append(connections, conn)
		}
	}
	return connections
}

// Stats returns connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.users),
		"active_rooms":      len(r.rooms),
	}
}
