package integration

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatsync/internal/app"
	"chatsync/internal/client"
	"chatsync/internal/config"
	"chatsync/internal/connection"
	"chatsync/internal/history"
	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

const relayToken = "integration-secret"

// startRelay boots a full relay on a loopback port and returns its
// base address.
func startRelay(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to grab a port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	cfg := config.DefaultConfig()
	cfg.Relay.Host = "127.0.0.1"
	cfg.Relay.Port = port
	cfg.Relay.AuthToken = relayToken
	cfg.Relay.DatabasePath = filepath.Join(t.TempDir(), "relay.db")

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("relay init failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("relay start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	return fmt.Sprintf("127.0.0.1:%d", port)
}

// newClient assembles a full client stack against the relay at addr.
func newClient(t *testing.T, addr, userID string) *client.Client {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Typing.IdleTimeout = 200 * time.Millisecond
	cfg.Typing.SweepInterval = 50 * time.Millisecond

	transport := connection.NewManager(*cfg.Transport)
	backend := history.NewClient("http://"+addr, userID, relayToken, 5*time.Second)
	creds := interfaces.Credentials{
		URL:    "ws://" + addr + "/ws",
		UserID: userID,
		Token:  relayToken,
	}

	c := client.New(cfg, transport, backend, creds, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("client init failed for %s: %v", userID, err)
	}
	t.Cleanup(c.Dispose)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestQuestionLifecycle(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")

	roomID, err := alice.CreateRoom(context.Background(), "How do channels close?", "Full details inside")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if roomID == "" {
		t.Fatal("expected a room id")
	}

	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	// History includes the opening message.
	waitFor(t, "opening message", func() bool {
		msgs := alice.Messages()
		return len(msgs) == 1 && msgs[0].Content == "Full details inside"
	})
}

func TestMessageEchoRoundTrip(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")

	roomID, err := alice.CreateRoom(context.Background(), "t", "opening")
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "history", func() bool { return len(alice.Messages()) == 1 })

	if _, err := alice.Send("hello there", types.MessageTypeText, ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// The echo resolves the pending entry into a confirmed message.
	waitFor(t, "echo", func() bool {
		msgs := alice.Messages()
		if len(msgs) != 2 {
			return false
		}
		last := msgs[1]
		return last.Content == "hello there" && last.Origin == types.OriginRemote && !last.Failed
	})
}

func TestTwoClientDelivery(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")
	bob := newClient(t, addr, "bob")

	roomID, err := alice.CreateRoom(context.Background(), "t", "opening")
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	if err := bob.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob history", func() bool { return len(bob.Messages()) == 1 })

	if _, err := alice.Send("for bob", types.MessageTypeText, ""); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "delivery to bob", func() bool {
		msgs := bob.Messages()
		return len(msgs) == 2 && msgs[1].Content == "for bob" && msgs[1].SenderID == "alice"
	})
	waitFor(t, "echo to alice", func() bool {
		return len(alice.Messages()) == 2
	})

	// Both sides observe the same canonical order.
	aliceMsgs := alice.Messages()
	bobMsgs := bob.Messages()
	for i := range aliceMsgs {
		if aliceMsgs[i].ID != bobMsgs[i].ID {
			t.Fatalf("order mismatch at %d: %s vs %s", i, aliceMsgs[i].ID, bobMsgs[i].ID)
		}
	}
}

func TestTypingIndicator(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")
	bob := newClient(t, addr, "bob")

	roomID, err := alice.CreateRoom(context.Background(), "t", "opening")
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	if err := bob.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}

	alice.Keystroke()
	waitFor(t, "typing visible to bob", func() bool {
		peers := bob.TypingPeers()
		return len(peers) == 1 && peers[0] == "alice"
	})

	// The indicator clears after the idle window with no further keystrokes.
	waitFor(t, "typing cleared", func() bool {
		return len(bob.TypingPeers()) == 0
	})
}

func TestUnreadTracking(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")
	bob := newClient(t, addr, "bob")

	roomA, err := alice.CreateRoom(context.Background(), "a", "opening a")
	if err != nil {
		t.Fatal(err)
	}

	if err := alice.Enter(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}
	if err := bob.Enter(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob in roomA", func() bool { return len(bob.Messages()) == 1 })

	if _, err := alice.Send("first", types.MessageTypeText, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob sees first", func() bool { return len(bob.Messages()) == 2 })

	// Arrivals count as unread until the user marks the room again.
	waitFor(t, "unread increment", func() bool { return bob.Unread(roomA) == 1 })
	if bob.UnreadTotal() != 1 {
		t.Errorf("expected total 1, got %d", bob.UnreadTotal())
	}

	// Re-entering the active room refreshes the read mark.
	if err := bob.Enter(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unread cleared", func() bool { return bob.Unread(roomA) == 0 })
}

func TestUnreadAccruesWhileAway(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")
	bob := newClient(t, addr, "bob")

	roomID, err := alice.CreateRoom(context.Background(), "t", "opening")
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	if err := bob.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob history", func() bool { return len(bob.Messages()) == 1 })

	// Bob switches away; the room stays in his unread bookkeeping.
	bob.Exit()

	for i := 0; i < 3; i++ {
		if _, err := alice.Send(fmt.Sprintf("while away %d", i), types.MessageTypeText, ""); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "unread accrual while away", func() bool { return bob.Unread(roomID) == 3 })
	if bob.UnreadTotal() != 3 {
		t.Errorf("expected total 3, got %d", bob.UnreadTotal())
	}

	// Coming back clears the count.
	if err := bob.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unread cleared on enter", func() bool { return bob.Unread(roomID) == 0 })
	waitFor(t, "missed messages merged", func() bool { return len(bob.Messages()) == 4 })
}

func TestRefreshUnreadSeedsFreshClient(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")

	roomID, err := alice.CreateRoom(context.Background(), "t", "opening")
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "history", func() bool { return len(alice.Messages()) == 1 })
	if _, err := alice.Send("posted before carol arrived", types.MessageTypeText, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "echo", func() bool { return len(alice.Messages()) == 2 })

	// Carol was offline for all of it; the persisted read state and
	// history rebuild her count without entering the room.
	carol := newClient(t, addr, "carol")
	if err := carol.RefreshUnread(context.Background(), roomID); err != nil {
		t.Fatalf("RefreshUnread failed: %v", err)
	}
	if got := carol.Unread(roomID); got != 2 {
		t.Errorf("seeded unread: got %d, want 2", got)
	}
}

func TestFileUploadVisibleToPeer(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")
	bob := newClient(t, addr, "bob")

	roomID, err := alice.CreateRoom(context.Background(), "t", "opening")
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	if err := bob.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "histories", func() bool {
		return len(alice.Messages()) == 1 && len(bob.Messages()) == 1
	})

	msg, err := alice.SendFile(context.Background(), "notes.pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	if msg.Type != types.MessageTypePublicPDF {
		t.Errorf("expected public_pdf type, got %s", msg.Type)
	}

	// The uploader sees it immediately; the peer gets the push.
	waitFor(t, "file visible to alice", func() bool { return len(alice.Messages()) == 2 })
	waitFor(t, "file visible to bob", func() bool {
		msgs := bob.Messages()
		return len(msgs) == 2 && msgs[1].FileURL != ""
	})
}

func TestAuthRejection(t *testing.T) {
	addr := startRelay(t)

	cfg := config.DefaultConfig()
	transport := connection.NewManager(*cfg.Transport)
	backend := history.NewClient("http://"+addr, "mallory", "wrong-token", 5*time.Second)
	creds := interfaces.Credentials{
		URL:    "ws://" + addr + "/ws",
		UserID: "mallory",
		Token:  "wrong-token",
	}

	c := client.New(cfg, transport, backend, creds, nil)
	defer c.Dispose()

	err := c.Init(context.Background())
	if err == nil {
		t.Fatal("expected init to fail with a bad token")
	}
	if c.State() == types.StateConnected {
		t.Error("client must not report connected after an auth failure")
	}
}

func TestHistoryAfterReconnect(t *testing.T) {
	addr := startRelay(t)
	alice := newClient(t, addr, "alice")

	roomID, err := alice.CreateRoom(context.Background(), "t", "opening")
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "history", func() bool { return len(alice.Messages()) == 1 })
	if _, err := alice.Send("before leaving", types.MessageTypeText, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "echo", func() bool { return len(alice.Messages()) == 2 })

	// A fresh client sees the persisted conversation.
	carol := newClient(t, addr, "carol")
	if err := carol.Enter(context.Background(), roomID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "carol history", func() bool {
		msgs := carol.Messages()
		return len(msgs) == 2 && msgs[1].Content == "before leaving"
	})
}
