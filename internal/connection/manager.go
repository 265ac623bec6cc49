package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/config"
	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

// Manager is the single live websocket channel for a session. It owns
// the full connection lifecycle: dialing, the single writer goroutine,
// the read pump that dispatches incoming frames to scoped handlers, and
// the state machine. There is no automatic transition out of degraded;
// callers drive recovery explicitly through Retry.
type Manager struct {
	cfg config.TransportConfig

	mu         sync.Mutex
	state      types.ConnectionState
	creds      interfaces.Credentials
	hasCreds   bool
	authFailed bool
	closed     bool

	conn    *websocket.Conn
	writeCh chan []byte

	// gen fences the read and write loops to the connection they were
	// started for. A loop whose generation no longer matches must not
	// touch manager state.
	gen uint64

	handlers map[string]map[interfaces.Subscription]interfaces.EventHandler
	nextSub  uint64
}

// NewManager creates a disconnected manager. The first Connect supplies
// credentials; Retry reuses them.
func NewManager(cfg config.TransportConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		state:    types.StateDisconnected,
		handlers: make(map[string]map[interfaces.Subscription]interfaces.EventHandler),
	}
}

// State reports the current lifecycle state.
func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the endpoint in creds. Idempotent: a no-op returning
// nil while connected or connecting. A failed dial leaves the manager
// degraded; an HTTP 401 or 403 during the handshake additionally marks
// the session unauthenticated, which makes later retries fail fast.
func (m *Manager) Connect(ctx context.Context, creds interfaces.Credentials) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == types.StateConnected || m.state == types.StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = types.StateConnecting
	m.creds = creds
	m.hasCreds = true
	m.authFailed = false
	m.mu.Unlock()

	return m.dial(ctx, creds)
}

// Retry attempts degraded -> connecting -> connected with the
// credentials from the last Connect. It refuses to run from any other
// state, and fails fast once the session is known to be
// unauthenticated.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.authFailed {
		m.mu.Unlock()
		return interfaces.ErrAuthenticationFailed
	}
	if m.state != types.StateDegraded {
		m.mu.Unlock()
		return ErrNotDegraded
	}
	if !m.hasCreds {
		m.mu.Unlock()
		return ErrNoCredentials
	}
	creds := m.creds
	m.state = types.StateConnecting
	m.mu.Unlock()

	log.Printf("Retrying connection: url=%s user=%s", creds.URL, creds.UserID)
	return m.dial(ctx, creds)
}

// dial performs one handshake attempt from the connecting state.
func (m *Manager) dial(ctx context.Context, creds interfaces.Credentials) error {
	endpoint, err := url.Parse(creds.URL)
	if err != nil {
		m.failDial(false)
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("user_id", creds.UserID)
	query.Set("token", creds.Token)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			m.failDial(true)
			log.Printf("Connection rejected: status=%d user=%s", resp.StatusCode, creds.UserID)
			return fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, interfaces.ErrAuthenticationFailed)
		}
		m.failDial(false)
		return fmt.Errorf("dial %s: %w", creds.URL, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.writeCh = make(chan []byte, m.cfg.BufferSize)
	m.state = types.StateConnected
	writeCh := m.writeCh
	m.mu.Unlock()

	go m.writeLoop(conn, writeCh, gen)
	go m.readLoop(conn, gen)

	log.Printf("Connected: url=%s user=%s", creds.URL, creds.UserID)
	m.dispatch(types.EventConnect, nil)
	return nil
}

// failDial moves connecting -> degraded after a failed handshake.
func (m *Manager) failDial(authFailed bool) {
	m.mu.Lock()
	if !m.closed {
		m.state = types.StateDegraded
		if authFailed {
			m.authFailed = true
		}
	}
	m.mu.Unlock()
}

// Emit sends one event frame through the single writer. It returns
// ErrNotConnected when no live channel exists so the caller can reroute
// the send to its degraded path.
func (m *Manager) Emit(event string, payload interface{}) error {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	m.mu.Lock()
	if m.state != types.StateConnected {
		m.mu.Unlock()
		return interfaces.ErrNotConnected
	}
	writeCh := m.writeCh
	m.mu.Unlock()

	select {
	case writeCh <- data:
		return nil
	case <-time.After(m.cfg.WriteTimeout):
		return ErrWriteTimeout
	}
}

// On registers a handler for one event name. Handlers run on the read
// loop and must not block. The token unregisters via Off.
func (m *Manager) On(event string, handler interfaces.EventHandler) interfaces.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	sub := interfaces.Subscription(m.nextSub)
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[interfaces.Subscription]interfaces.EventHandler)
	}
	m.handlers[event][sub] = handler
	return sub
}

// Off removes a handler. Idempotent.
func (m *Manager) Off(event string, sub interfaces.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if subs, exists := m.handlers[event]; exists {
		delete(subs, sub)
	}
}

// Close tears the manager down: the socket is closed, the loops fenced
// out, and all subscriptions dropped. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = types.StateDisconnected
	m.gen++
	conn := m.conn
	m.conn = nil
	m.handlers = make(map[string]map[interfaces.Subscription]interfaces.EventHandler)
	m.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// writeLoop is the single writer for one connection. All outbound
// frames funnel through writeCh; the loop also keeps the connection
// alive with periodic pings.
func (m *Manager) writeLoop(conn *websocket.Conn, writeCh chan []byte, gen uint64) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-writeCh:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				m.dropConnection(gen, fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.dropConnection(gen, fmt.Errorf("write frame: %w", err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				m.dropConnection(gen, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// readLoop pumps inbound frames and dispatches them by event name. Any
// read failure drops the connection with its reason.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.dropConnection(gen, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Malformed frame dropped: %v", err)
			continue
		}

		if frame.Event == types.EventConnectError {
			m.handleConnectError(gen, frame.Data)
			continue
		}
		m.dispatch(frame.Event, frame.Data)
	}
}

// handleConnectError processes an in-band rejection from the server. An
// auth_failed code is fatal for the session: the connection drops and
// later retries fail fast with ErrAuthenticationFailed.
func (m *Manager) handleConnectError(gen uint64, data json.RawMessage) {
	var payload types.ConnectErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("Malformed connect_error frame dropped: %v", err)
		return
	}

	log.Printf("Server rejected connection: code=%s message=%s", payload.Code, payload.Message)
	m.dispatch(types.EventConnectError, data)

	if payload.Code == types.ConnectErrorAuthFailed {
		m.mu.Lock()
		m.authFailed = true
		m.mu.Unlock()
	}
	m.dropConnection(gen, fmt.Errorf("server rejected connection: %s", payload.Code))
}

// dropConnection moves connected -> degraded for the generation the
// failing loop was serving. Stale generations are ignored so a loop
// from a replaced connection cannot degrade its successor.
func (m *Manager) dropConnection(gen uint64, reason error) {
	m.mu.Lock()
	if m.gen != gen || m.state != types.StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = types.StateDegraded
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	log.Printf("Connection lost: %v", reason)
	m.dispatch(types.EventDisconnect, nil)
}

// dispatch invokes every handler registered for event, outside the
// manager lock.
func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	subs := m.handlers[event]
	handlers := make([]interfaces.EventHandler, 0, len(subs))
	for _, handler := range subs {
		handlers = append(handlers, handler)
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(data)
	}
}
