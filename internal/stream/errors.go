package stream

import "errors"

// Stream-specific error types.
var (
	ErrNoActiveRoom = errors.New("no active room")
	ErrRoomMismatch = errors.New("message does not belong to the active room")
	ErrNotPending   = errors.New("no pending send with that client ID")
)
