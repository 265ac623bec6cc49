package interfaces

import (
	"context"
	"io"
	"time"

	"chatsync/pkg/types"
)

// Backend is the persistence-side collaborator: a REST-style API the
// core calls for history, uploads, question creation and read marks.
// The core never persists anything itself.
type Backend interface {
	// FetchHistory returns a question's messages ordered by creation
	// time. Called once per room entry; the caller fences stale results.
	FetchHistory(ctx context.Context, roomID string) ([]*types.Message, error)

	// SendFile uploads an attachment out of band. The returned message
	// is merged into the stream as a remote-origin entry.
	SendFile(ctx context.Context, roomID, filename string, data io.Reader) (*types.Message, error)

	// CreateRoom opens a new question thread and returns its room ID.
	CreateRoom(ctx context.Context, title, content string) (string, error)

	// MarkAsRead is fire-and-forget; failure is logged, not fatal.
	// Read-state drift self-corrects on the next successful call.
	MarkAsRead(ctx context.Context, roomID string) error

	// ReadState returns the caller's persisted read mark for the
	// question, zero if never marked. Used to seed unread counts for
	// rooms whose pushes were missed.
	ReadState(ctx context.Context, roomID string) (time.Time, error)
}
