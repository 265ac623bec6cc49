package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/types"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Deployments front this with their own origin policy
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// FrameSink consumes inbound frames and connection lifecycle events.
// Implemented by the hub; the indirection keeps this package free of
// routing concerns.
type FrameSink interface {
	Submit(conn *Connection, frame *types.Frame) error
	Register(conn *Connection) error
	Unregister(conn *Connection) error
}

// Handler owns the websocket endpoint: credential checks before the
// upgrade, then the per-connection read pump and heartbeat.
type Handler struct {
	sink      FrameSink
	authToken string
}

// NewHandler creates a handler feeding sink. An empty authToken
// disables token checks.
func NewHandler(sink FrameSink, authToken string) *Handler {
	return &Handler{sink: sink, authToken: authToken}
}

// HandleWebSocket validates credentials and upgrades the request.
// Rejections happen before the upgrade so clients see a plain HTTP
// status: 401 for a bad token is what they classify as fatal.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	token := r.URL.Query().Get("token")

	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid or missing user_id", http.StatusBadRequest)
		return
	}
	if h.authToken != "" && token != h.authToken {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, userID)
	if err := h.sink.Register(wsConn); err != nil {
		log.Printf("Connection registration failed: user=%s: %v", userID, err)
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat until the socket
// dies, then unregisters.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.sink.Unregister(conn); err != nil {
			log.Printf("Connection deregistration failed: user=%s: %v", conn.UserID(), err)
		}
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: user=%s: %v", conn.UserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Malformed frame dropped: user=%s: %v", conn.UserID(), err)
			continue
		}
		if err := h.sink.Submit(conn, &frame); err != nil {
			log.Printf("Frame not accepted: user=%s event=%s: %v", conn.UserID(), frame.Event, err)
		}
	}
}
