package room

import "errors"

var (
	// ErrInvalidRoomID is returned by Enter for an empty or malformed
	// room identifier.
	ErrInvalidRoomID = errors.New("invalid room ID")
)
