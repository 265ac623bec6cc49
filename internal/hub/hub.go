package hub

import (
	"context"
	"log"
	"sync"

	"chatsync/internal/router"
	"chatsync/internal/websocket"
	"chatsync/pkg/types"
)

const (
	frameBufferSize     = 1000
	lifecycleBufferSize = 100
)

type inboundFrame struct {
	conn  *websocket.Connection
	frame *types.Frame
}

// Hub serializes all connection lifecycle changes and frame routing
// through a single goroutine, so the registry and router never race.
type Hub struct {
	registry *websocket.Registry
	router   *router.Router

	frames     chan inboundFrame
	register   chan *websocket.Connection
	unregister chan *websocket.Connection
	shutdown   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

func NewHub(registry *websocket.Registry, r *router.Router) *Hub {
	return &Hub{
		registry:   registry,
		router:     r,
		frames:     make(chan inboundFrame, frameBufferSize),
		register:   make(chan *websocket.Connection, lifecycleBufferSize),
		unregister: make(chan *websocket.Connection, lifecycleBufferSize),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the processing loop. It returns immediately; the loop
// runs until Stop or ctx cancellation.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	h.started = true
	go h.run(ctx)
	return nil
}

// Stop terminates the loop and waits for it to drain.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	close(h.shutdown)
	h.mu.Unlock()
	<-h.done
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case in := <-h.frames:
			if err := h.router.Route(ctx, in.conn, in.frame); err != nil {
				log.Printf("Frame routing failed: user=%s event=%s: %v", in.conn.UserID(), in.frame.Event, err)
			}
		case conn := <-h.register:
			if err := h.registry.Register(conn); err != nil {
				log.Printf("Registration failed: user=%s: %v", conn.UserID(), err)
			}
		case conn := <-h.unregister:
			h.registry.Unregister(conn)
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) accepting() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return ErrHubNotStarted
	}
	if h.stopped {
		return ErrHubStopped
	}
	return nil
}

// Submit queues a frame for routing. Non-blocking; a full queue is an
// error the caller logs and the frame is dropped.
func (h *Hub) Submit(conn *websocket.Connection, frame *types.Frame) error {
	if err := h.accepting(); err != nil {
		return err
	}
	select {
	case h.frames <- inboundFrame{conn: conn, frame: frame}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Register queues a connection for registry insertion.
func (h *Hub) Register(conn *websocket.Connection) error {
	if err := h.accepting(); err != nil {
		return err
	}
	select {
	case h.register <- conn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Unregister queues a connection for removal.
func (h *Hub) Unregister(conn *websocket.Connection) error {
	if err := h.accepting(); err != nil {
		return err
	}
	select {
	case h.unregister <- conn:
		return nil
	default:
		return ErrQueueFull
	}
}
