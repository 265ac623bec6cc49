package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/config"
	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testTransportConfig() config.TransportConfig {
	return config.TransportConfig{
		DialTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
		PingInterval: time.Minute,
		ReadTimeout:  time.Minute,
		BufferSize:   16,
	}
}

// relayStub is a minimal websocket endpoint that rejects the token
// "bad" before the upgrade and hands accepted sockets to onConn.
type relayStub struct {
	server *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newRelayStub(t *testing.T, onConn func(conn *websocket.Conn)) *relayStub {
	t.Helper()
	stub := &relayStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "bad" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.mu.Lock()
		stub.conns = append(stub.conns, conn)
		stub.mu.Unlock()
		if onConn != nil {
			onConn(conn)
		}
	}))
	t.Cleanup(stub.close)
	return stub
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *relayStub) close() {
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.server.Close()
}

func testCreds(stub *relayStub) interfaces.Credentials {
	return interfaces.Credentials{URL: stub.url(), UserID: "user1", Token: "good"}
}

func waitForState(t *testing.T, m *Manager, want types.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %s, stuck at %s", want, m.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_ConnectLifecycle(t *testing.T) {
	stub := newRelayStub(t, nil)
	m := NewManager(testTransportConfig())
	defer m.Close()

	if m.State() != types.StateDisconnected {
		t.Fatalf("fresh manager should be disconnected, got %s", m.State())
	}

	connected := make(chan struct{}, 1)
	m.On(types.EventConnect, func(json.RawMessage) { connected <- struct{}{} })

	if err := m.Connect(context.Background(), testCreds(stub)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if m.State() != types.StateConnected {
		t.Errorf("expected connected, got %s", m.State())
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Error("connect event never fired")
	}

	// Idempotent while connected
	if err := m.Connect(context.Background(), testCreds(stub)); err != nil {
		t.Errorf("repeat Connect should be a no-op, got %v", err)
	}
}

func TestManager_EmitBeforeConnect(t *testing.T) {
	m := NewManager(testTransportConfig())
	defer m.Close()

	err := m.Emit(types.EventTyping, types.TypingPayload{RoomID: "room-1", IsTyping: true})
	if !errors.Is(err, interfaces.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_AuthRejectionDuringHandshake(t *testing.T) {
	stub := newRelayStub(t, nil)
	m := NewManager(testTransportConfig())
	defer m.Close()

	creds := testCreds(stub)
	creds.Token = "bad"
	err := m.Connect(context.Background(), creds)
	if !errors.Is(err, interfaces.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if m.State() != types.StateDegraded {
		t.Errorf("failed connect should leave the manager degraded, got %s", m.State())
	}

	// The session is known bad; retry refuses before touching the wire
	if err := m.Retry(context.Background()); !errors.Is(err, interfaces.ErrAuthenticationFailed) {
		t.Errorf("retry after auth failure should fail fast, got %v", err)
	}
}

func TestManager_DialFailureIsRecoverable(t *testing.T) {
	stub := newRelayStub(t, nil)
	m := NewManager(testTransportConfig())
	defer m.Close()

	creds := testCreds(stub)
	badCreds := creds
	badCreds.URL = "ws://127.0.0.1:1" // nothing listens here
	err := m.Connect(context.Background(), badCreds)
	if err == nil {
		t.Fatal("dial to a dead endpoint should fail")
	}
	if errors.Is(err, interfaces.ErrAuthenticationFailed) {
		t.Error("transport failure must not be classified as auth failure")
	}
	if m.State() != types.StateDegraded {
		t.Fatalf("expected degraded, got %s", m.State())
	}

	// Recoverable: Retry with corrected credentials from a later Connect
	// is out of scope, but Retry itself must be allowed to run.
	if err := m.Retry(context.Background()); err == nil {
		t.Error("retry against the dead endpoint should fail again")
	}
	if m.State() != types.StateDegraded {
		t.Errorf("failed retry should land back in degraded, got %s", m.State())
	}
}

func TestManager_EmitReachesServer(t *testing.T) {
	frames := make(chan types.Frame, 1)
	stub := newRelayStub(t, func(conn *websocket.Conn) {
		var frame types.Frame
		if err := conn.ReadJSON(&frame); err == nil {
			frames <- frame
		}
	})

	m := NewManager(testTransportConfig())
	defer m.Close()
	if err := m.Connect(context.Background(), testCreds(stub)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := m.Emit(types.EventJoinQuestion, types.RoomPayload{RoomID: "room-1"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case frame := <-frames:
		if frame.Event != types.EventJoinQuestion {
			t.Errorf("expected join_question frame, got %s", frame.Event)
		}
		var payload types.RoomPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.RoomID != "room-1" {
			t.Errorf("bad payload: %s (%v)", frame.Data, err)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never arrived at the server")
	}
}

func TestManager_ServerPushDispatchedToHandlers(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	stub := newRelayStub(t, func(conn *websocket.Conn) { ready <- conn })

	m := NewManager(testTransportConfig())
	defer m.Close()

	received := make(chan json.RawMessage, 2)
	sub := m.On(types.EventNewMessage, func(data json.RawMessage) { received <- data })

	if err := m.Connect(context.Background(), testCreds(stub)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server := <-ready

	frame, _ := types.NewFrame(types.EventNewMessage, types.NewMessagePayload{
		Message: types.Message{ID: "m1", RoomID: "room-1", SenderID: "peer"},
	})
	if err := server.WriteJSON(frame); err != nil {
		t.Fatalf("server write failed: %v", err)
	}

	select {
	case data := <-received:
		var payload types.NewMessagePayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.Message.ID != "m1" {
			t.Errorf("bad push payload: %s (%v)", data, err)
		}
	case <-time.After(time.Second):
		t.Fatal("push never dispatched")
	}

	// Off stops delivery
	m.Off(types.EventNewMessage, sub)
	m.Off(types.EventNewMessage, sub) // idempotent
	server.WriteJSON(frame)
	select {
	case <-received:
		t.Error("unsubscribed handler still invoked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_DropDegradesAndRetryReconnects(t *testing.T) {
	ready := make(chan *websocket.Conn, 2)
	stub := newRelayStub(t, func(conn *websocket.Conn) {
		ready <- conn
		// Keep the read side open so the server notices nothing
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m := NewManager(testTransportConfig())
	defer m.Close()

	dropped := make(chan struct{}, 1)
	m.On(types.EventDisconnect, func(json.RawMessage) { dropped <- struct{}{} })

	if err := m.Connect(context.Background(), testCreds(stub)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server := <-ready

	if err := m.Retry(context.Background()); !errors.Is(err, ErrNotDegraded) {
		t.Errorf("retry while connected should report ErrNotDegraded, got %v", err)
	}

	server.Close()
	waitForState(t, m, types.StateDegraded)
	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Error("disconnect event never fired")
	}

	if err := m.Retry(context.Background()); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if m.State() != types.StateConnected {
		t.Errorf("retry should reconnect, got %s", m.State())
	}
	<-ready
}

func TestManager_InBandAuthRejection(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn) {
		frame, _ := types.NewFrame(types.EventConnectError, types.ConnectErrorPayload{
			Code:    types.ConnectErrorAuthFailed,
			Message: "session revoked",
		})
		conn.WriteJSON(frame)
	})

	m := NewManager(testTransportConfig())
	defer m.Close()

	rejected := make(chan struct{}, 1)
	m.On(types.EventConnectError, func(json.RawMessage) { rejected <- struct{}{} })

	if err := m.Connect(context.Background(), testCreds(stub)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-rejected:
	case <-time.After(time.Second):
		t.Fatal("connect_error never dispatched")
	}
	waitForState(t, m, types.StateDegraded)

	if err := m.Retry(context.Background()); !errors.Is(err, interfaces.ErrAuthenticationFailed) {
		t.Errorf("retry after in-band auth rejection should fail fast, got %v", err)
	}
}

func TestManager_CloseIsTerminal(t *testing.T) {
	stub := newRelayStub(t, nil)
	m := NewManager(testTransportConfig())

	if err := m.Connect(context.Background(), testCreds(stub)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("repeat Close should be a no-op, got %v", err)
	}

	if m.State() != types.StateDisconnected {
		t.Errorf("closed manager should report disconnected, got %s", m.State())
	}
	if err := m.Connect(context.Background(), testCreds(stub)); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close should report ErrClosed, got %v", err)
	}
	if err := m.Emit(types.EventTyping, nil); !errors.Is(err, interfaces.ErrNotConnected) {
		t.Errorf("Emit after Close should report ErrNotConnected, got %v", err)
	}
}
