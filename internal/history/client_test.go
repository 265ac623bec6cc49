package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, NewClient(server.URL, "user1", "secret", 2*time.Second)
}

func TestClient_FetchHistory(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/questions/room-1/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode(types.MessagesResponse{Messages: []*types.Message{
			{ID: "m1", RoomID: "room-1", SenderID: "peer", Content: "a", Type: types.MessageTypeText, CreatedAt: now},
			{ID: "m2", RoomID: "room-1", SenderID: "peer", Content: "b", Type: types.MessageTypeText, CreatedAt: now.Add(time.Second)},
		}})
	})

	msgs, err := client.FetchHistory(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.Origin != types.OriginRemote {
			t.Errorf("history message %s should be stamped remote, got %s", msg.ID, msg.Origin)
		}
	}
}

func TestClient_FetchHistoryUnknownRoom(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := client.FetchHistory(context.Background(), "gone")
	if !errors.Is(err, interfaces.ErrRoomNotFound) {
		t.Errorf("404 should map to ErrRoomNotFound, got %v", err)
	}
}

func TestClient_AuthFailureMapped(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	})

	err := client.MarkAsRead(context.Background(), "room-1")
	if !errors.Is(err, interfaces.ErrAuthenticationFailed) {
		t.Errorf("401 should map to ErrAuthenticationFailed, got %v", err)
	}
}

func TestClient_CreateRoom(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/questions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req types.CreateQuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Title != "Billing issue" || req.UserID != "user1" {
			t.Errorf("unexpected request body: %+v", req)
		}
		json.NewEncoder(w).Encode(types.CreateQuestionResponse{Question: &types.Question{
			ID:        "q-42",
			Title:     req.Title,
			CreatedBy: req.UserID,
			CreatedAt: time.Now(),
		}})
	})

	roomID, err := client.CreateRoom(context.Background(), "Billing issue", "I was charged twice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if roomID != "q-42" {
		t.Errorf("room ID: got %s, want q-42", roomID)
	}
}

func TestClient_SendFile(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/questions/room-1/files" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not a multipart request: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "receipt.pdf" {
			t.Errorf("filename: got %s", header.Filename)
		}
		if r.FormValue("user_id") != "user1" {
			t.Errorf("user_id: got %s", r.FormValue("user_id"))
		}
		json.NewEncoder(w).Encode(types.FileUploadResponse{Message: &types.Message{
			ID:      "m-file",
			RoomID:  "room-1",
			Type:    types.MessageTypeFile,
			FileURL: "/files/receipt.pdf",
		}})
	})

	msg, err := client.SendFile(context.Background(), "room-1", "receipt.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	if msg.ID != "m-file" || msg.Origin != types.OriginRemote {
		t.Errorf("unexpected upload result: %+v", msg)
	}
}

func TestClient_MarkAsRead(t *testing.T) {
	marked := false
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/questions/room-1/read" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req types.MarkReadRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.UserID != "user1" {
			t.Errorf("user_id: got %s", req.UserID)
		}
		marked = true
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.MarkAsRead(context.Background(), "room-1"); err != nil {
		t.Fatalf("MarkAsRead failed: %v", err)
	}
	if !marked {
		t.Error("server never saw the read mark")
	}
}

func TestClient_ReadState(t *testing.T) {
	mark := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/questions/room-1/read" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("user_id") != "user1" {
			t.Errorf("user_id: got %s", r.URL.Query().Get("user_id"))
		}
		json.NewEncoder(w).Encode(types.ReadStateResponse{UserID: "user1", ReadAt: mark})
	})

	readAt, err := client.ReadState(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if !readAt.Equal(mark) {
		t.Errorf("read mark: got %v, want %v", readAt, mark)
	}
}

func TestClient_ServerErrorMessageSurfaced(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(types.ErrorResponse{Error: "database unavailable", Code: 500})
	})

	_, err := client.FetchHistory(context.Background(), "room-1")
	if err == nil || !strings.Contains(err.Error(), "database unavailable") {
		t.Errorf("server error detail should surface, got %v", err)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.FetchHistory(ctx, "room-1"); err == nil {
		t.Error("cancelled context should abort the request")
	}
}
