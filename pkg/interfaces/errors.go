package interfaces

import "errors"

// Common errors shared across component boundaries.
var (
	ErrNotConnected         = errors.New("transport is not connected")
	ErrAuthenticationFailed = errors.New("authentication rejected by server")
	ErrRoomNotFound         = errors.New("room not found")
)
