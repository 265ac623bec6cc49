package interfaces

import (
	"context"
	"encoding/json"

	"chatsync/pkg/types"
)

// Credentials identify one user session against the messaging backend.
type Credentials struct {
	URL    string // websocket endpoint
	UserID string
	Token  string
}

// EventHandler receives one dispatched event's raw payload. Handlers run
// on the transport's event loop; they must not block.
type EventHandler func(data json.RawMessage)

// Subscription is the token returned by On, used to unregister the
// handler with Off. Callers must unregister on teardown so handlers do
// not leak across room changes.
type Subscription uint64

// Transport owns the single live channel to the messaging backend for a
// session. Exactly one Transport per session; it is not safe to run two
// concurrently for the same session.
type Transport interface {
	// State reports the current connection lifecycle state.
	State() types.ConnectionState

	// Connect establishes the transport. Idempotent: a no-op when
	// already connected or connecting. An ErrAuthenticationFailed
	// result means the session is invalid and retrying is pointless.
	Connect(ctx context.Context, creds Credentials) error

	// Retry attempts degraded -> connecting -> connected with the
	// credentials from the last Connect.
	Retry(ctx context.Context) error

	// Emit sends one event frame. Returns ErrNotConnected when no live
	// channel exists; callers redirect such sends to the degraded path.
	Emit(event string, payload interface{}) error

	// On registers a scoped event handler; Off removes it.
	On(event string, handler EventHandler) Subscription
	Off(event string, sub Subscription)

	// Close tears the transport down and drops all subscriptions.
	Close() error
}
