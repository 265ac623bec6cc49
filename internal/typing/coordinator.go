package typing

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

// Coordinator tracks typing state in both directions for the active
// room. The local side debounces keystrokes into at most one start
// pulse and one stop pulse per burst; the remote side holds each peer's
// last pulse under a TTL so a peer that vanishes mid-keystroke still
// drops off the indicator without an explicit stop.
type Coordinator struct {
	transport interfaces.Transport
	selfID    string

	idleTimeout time.Duration
	remoteTTL   time.Duration
	sweepEvery  time.Duration

	mu          sync.Mutex
	roomID      string
	localActive bool
	idleTimer   *time.Timer
	peers       map[string]types.TypingState
	onChange    func()
	stopCh      chan struct{}
	stopped     bool
}

// NewCoordinator creates a coordinator publishing own pulses through
// transport and holding peer pulses for remoteTTL. onChange fires on
// every visible change to the peer set and may be nil.
func NewCoordinator(transport interfaces.Transport, selfID string, idleTimeout, remoteTTL, sweepEvery time.Duration, onChange func()) *Coordinator {
	return &Coordinator{
		transport:   transport,
		selfID:      selfID,
		idleTimeout: idleTimeout,
		remoteTTL:   remoteTTL,
		sweepEvery:  sweepEvery,
		peers:       make(map[string]types.TypingState),
		onChange:    onChange,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the janitor that prunes expired peer entries. The
// janitor runs until Stop.
func (c *Coordinator) Start() {
	go c.janitor()
}

// Stop halts the janitor and cancels any in-flight idle timer. After
// Stop the coordinator is inert; keystrokes are ignored.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.localActive = false
	close(c.stopCh)
	c.mu.Unlock()
}

// Reset scopes the coordinator to roomID. Peer state from the previous
// room is discarded and a still-open local burst is closed without a
// stop pulse, since the server drops room membership on leave anyway.
func (c *Coordinator) Reset(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.peers = make(map[string]types.TypingState)
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.localActive = false
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Keystroke records local typing activity. The first keystroke of a
// burst emits typing{true}; every keystroke restarts the single idle
// timer whose expiry emits typing{false}. Bursts never stack timers.
func (c *Coordinator) Keystroke() {
	c.mu.Lock()
	if c.stopped || c.roomID == "" {
		c.mu.Unlock()
		return
	}

	roomID := c.roomID
	first := !c.localActive
	c.localActive = true

	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.idleTimeout, func() {
		c.idle(roomID)
	})
	c.mu.Unlock()

	if first {
		c.emit(roomID, true)
	}
}

// idle fires when the idle timer lapses without another keystroke.
func (c *Coordinator) idle(roomID string) {
	c.mu.Lock()
	if c.stopped || !c.localActive || c.roomID != roomID {
		c.mu.Unlock()
		return
	}
	c.localActive = false
	c.idleTimer = nil
	c.mu.Unlock()

	c.emit(roomID, false)
}

func (c *Coordinator) emit(roomID string, isTyping bool) {
	payload := types.TypingPayload{RoomID: roomID, UserID: c.selfID, IsTyping: isTyping}
	if err := c.transport.Emit(types.EventTyping, payload); err != nil {
		log.Printf("Typing pulse dropped: room=%s typing=%v: %v", roomID, isTyping, err)
	}
}

// HandleRemote consumes a typing_status frame. Pulses from other rooms
// or from ourselves are ignored; a start pulse arms (or refreshes) the
// peer's TTL and a stop pulse removes the peer immediately.
func (c *Coordinator) HandleRemote(data json.RawMessage) {
	var payload types.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("Malformed typing_status frame dropped: %v", err)
		return
	}

	c.mu.Lock()
	if payload.RoomID != c.roomID || payload.UserID == c.selfID {
		c.mu.Unlock()
		return
	}

	changed := false
	if payload.IsTyping {
		c.peers[payload.UserID] = types.TypingState{
			UserID:    payload.UserID,
			IsTyping:  true,
			ExpiresAt: time.Now().Add(c.remoteTTL),
		}
		changed = true
	} else if _, exists := c.peers[payload.UserID]; exists {
		delete(c.peers, payload.UserID)
		changed = true
	}
	notify := c.onChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
}

// Peers returns the user IDs currently typing, expired entries
// excluded. Order is unspecified.
func (c *Coordinator) Peers() []string {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.peers))
	for id, state := range c.peers {
		if !state.Expired(now) {
			out = append(out, id)
		}
	}
	return out
}

// janitor prunes expired peer entries so a peer whose stop pulse was
// lost still disappears one TTL after its last start pulse.
func (c *Coordinator) janitor() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Coordinator) sweep(now time.Time) {
	c.mu.Lock()
	changed := false
	for id, state := range c.peers {
		if state.Expired(now) {
			delete(c.peers, id)
			changed = true
		}
	}
	notify := c.onChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
}
