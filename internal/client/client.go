package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/config"
	"chatsync/internal/fallback"
	"chatsync/internal/room"
	"chatsync/internal/stream"
	"chatsync/internal/typing"
	"chatsync/internal/unread"
	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

var (
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("client already initialized")

	// ErrDisposed is returned by operations on a disposed client.
	ErrDisposed = errors.New("client is disposed")
)

// Client is one user's synchronization session, assembled from its
// parts: the transport, the message stream, the room session, typing
// and unread tracking, and the degraded-mode fallback. All event wiring
// lives here; the parts never subscribe to the transport themselves, so
// repeated room changes can never leak duplicate handlers.
//
// Lifecycle is explicit: New, Init once, Dispose once. Nothing is
// process-global; tests run many clients side by side.
type Client struct {
	cfg       *config.Config
	creds     interfaces.Credentials
	transport interfaces.Transport
	backend   interfaces.Backend

	stream   *stream.Stream
	typing   *typing.Coordinator
	unread   *unread.Aggregator
	fallback *fallback.Fallback
	session  *room.Session

	mu          sync.Mutex
	initialized bool
	disposed    bool
	subs        []boundSub
	streamSub   uint64
}

type boundSub struct {
	event string
	sub   interfaces.Subscription
}

// New assembles a client over the given transport and backend. onChange
// fires after any visible state change (messages, typing peers, unread
// counts) and may be nil.
func New(cfg *config.Config, transport interfaces.Transport, backend interfaces.Backend, creds interfaces.Credentials, onChange func()) *Client {
	c := &Client{
		cfg:       cfg,
		creds:     creds,
		transport: transport,
		backend:   backend,
		stream:    stream.New(cfg.Stream.AckTimeout),
	}
	c.typing = typing.NewCoordinator(transport, creds.UserID, cfg.Typing.IdleTimeout, cfg.Typing.RemoteTTL, cfg.Typing.SweepInterval, onChange)
	c.unread = unread.NewAggregator(creds.UserID, onChange)
	c.fallback = fallback.New(creds.UserID, c.stream)
	c.session = room.NewSession(transport, backend, c.stream, c.typing, c.unread)
	if onChange != nil {
		c.streamSub = c.stream.Subscribe(onChange)
	}
	return c
}

// Init wires the event handlers and connects. A recoverable connect
// failure leaves the client running degraded and returns nil; an
// authentication failure is fatal and returned.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.initialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.initialized = true

	c.subs = []boundSub{
		{types.EventNewMessage, c.transport.On(types.EventNewMessage, c.handleNewMessage)},
		{types.EventTypingStatus, c.transport.On(types.EventTypingStatus, c.typing.HandleRemote)},
		{types.EventConnect, c.transport.On(types.EventConnect, func(_ json.RawMessage) {
			log.Printf("Session online: user=%s", c.creds.UserID)
		})},
		{types.EventDisconnect, c.transport.On(types.EventDisconnect, func(_ json.RawMessage) {
			log.Printf("Session degraded: user=%s", c.creds.UserID)
		})},
	}
	c.mu.Unlock()

	c.typing.Start()

	if err := c.transport.Connect(ctx, c.creds); err != nil {
		if errors.Is(err, interfaces.ErrAuthenticationFailed) {
			return err
		}
		log.Printf("Starting degraded: %v", err)
	}
	return nil
}

// Dispose tears the client down: subscriptions removed, typing janitor
// stopped, transport closed. Idempotent.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, bound := range subs {
		c.transport.Off(bound.event, bound.sub)
	}
	if c.streamSub != 0 {
		c.stream.Unsubscribe(c.streamSub)
	}
	c.typing.Stop()
	if err := c.transport.Close(); err != nil {
		log.Printf("Transport close: %v", err)
	}
}

// Enter makes roomID the active room.
func (c *Client) Enter(ctx context.Context, roomID string) error {
	return c.session.Enter(ctx, roomID)
}

// Exit leaves the active room.
func (c *Client) Exit() {
	c.session.Exit()
}

// Send routes one message by connection state. Connected: an optimistic
// wire send, invisible until the server echo resolves it. Anything
// else: the degraded path, visible immediately as local_confirmed. An
// emit that fails underneath a connected state is rerouted to the
// degraded path rather than lost.
func (c *Client) Send(content string, msgType types.MessageType, fileURL string) (*types.Message, error) {
	if c.transport.State() != types.StateConnected {
		return c.fallback.Send(content, msgType, fileURL)
	}

	roomID := c.stream.RoomID()
	if roomID == "" {
		return nil, stream.ErrNoActiveRoom
	}

	msg := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  c.creds.UserID,
		Content:   content,
		Type:      msgType,
		FileURL:   fileURL,
		CreatedAt: time.Now(),
		Origin:    types.OriginLocalPending,
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if err := c.stream.TrackPending(msg); err != nil {
		return nil, err
	}

	payload := types.SendMessagePayload{
		ClientID: msg.ID,
		RoomID:   roomID,
		Content:  content,
		Type:     msgType,
		FileURL:  fileURL,
	}
	if err := c.transport.Emit(types.EventSendMessage, payload); err != nil {
		if cancelErr := c.stream.CancelPending(msg.ID); cancelErr != nil {
			log.Printf("Pending send not cancelled: id=%s: %v", msg.ID, cancelErr)
		}
		log.Printf("Send rerouted to degraded path: room=%s: %v", roomID, err)
		return c.fallback.Send(content, msgType, fileURL)
	}
	return msg, nil
}

// SendFile uploads an attachment to the active room over REST and
// merges the stored message immediately; other members get it via the
// relay broadcast.
func (c *Client) SendFile(ctx context.Context, filename string, data io.Reader) (*types.Message, error) {
	roomID := c.stream.RoomID()
	if roomID == "" {
		return nil, stream.ErrNoActiveRoom
	}

	msg, err := c.backend.SendFile(ctx, roomID, filename, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	c.stream.Apply(msg)
	return msg, nil
}

// CreateRoom opens a new question thread and returns its room ID. The
// caller decides whether to Enter it.
func (c *Client) CreateRoom(ctx context.Context, title, content string) (string, error) {
	return c.backend.CreateRoom(ctx, title, content)
}

// Retry drives degraded -> connecting -> connected.
func (c *Client) Retry(ctx context.Context) error {
	return c.transport.Retry(ctx)
}

// Keystroke records local typing activity for the active room.
func (c *Client) Keystroke() {
	c.typing.Keystroke()
}

// State reports the transport lifecycle state.
func (c *Client) State() types.ConnectionState {
	return c.transport.State()
}

// ActiveRoom returns the room currently entered, empty if none.
func (c *Client) ActiveRoom() string {
	return c.session.Active()
}

// Messages returns the active room's ordered messages.
func (c *Client) Messages() []types.Message {
	return c.stream.Snapshot()
}

// LoadError returns the active room's history-load failure, if any.
func (c *Client) LoadError() error {
	return c.stream.LoadError()
}

// TypingPeers returns the users currently typing in the active room.
func (c *Client) TypingPeers() []string {
	return c.typing.Peers()
}

// Unread returns one room's unread count; UnreadTotal sums all rooms.
func (c *Client) Unread(roomID string) int {
	return c.unread.Count(roomID)
}

func (c *Client) UnreadTotal() int {
	return c.unread.Total()
}

// RefreshUnread rebuilds one room's unread count from the backend's
// history and persisted read mark. Live pushes keep counts current
// while connected; this covers rooms whose pushes were missed, such as
// after a fresh start or a stretch offline.
func (c *Client) RefreshUnread(ctx context.Context, roomID string) error {
	if !types.IsValidRoomID(roomID) {
		return room.ErrInvalidRoomID
	}
	readAt, err := c.backend.ReadState(ctx, roomID)
	if err != nil {
		return err
	}
	msgs, err := c.backend.FetchHistory(ctx, roomID)
	if err != nil {
		return err
	}
	c.unread.Seed(roomID, readAt, msgs)
	return nil
}

// handleNewMessage consumes one server push. Every push feeds the
// unread counts; our own echo resolves its pending entry, anything else
// merges into the stream (a no-op for rooms other than the active one).
func (c *Client) handleNewMessage(data json.RawMessage) {
	var payload types.NewMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("Malformed new_message frame dropped: %v", err)
		return
	}
	msg := payload.Message
	if msg.Origin == "" {
		msg.Origin = types.OriginRemote
	}

	c.unread.Observe(&msg)

	if payload.ClientID != "" && msg.SenderID == c.creds.UserID {
		c.stream.Resolve(payload.ClientID, &msg)
		return
	}
	c.stream.Apply(&msg)
}
