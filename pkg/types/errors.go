package types

import "errors"

// Validation errors shared by the client core and the relay.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID      = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidOrigin      = errors.New("invalid message origin")
	ErrEmptyMessage       = errors.New("message needs content or a file URL")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
)
