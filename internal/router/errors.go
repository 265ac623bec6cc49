package router

import "errors"

var (
	// ErrUnknownEvent is returned for frames with an unrecognized event name.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNotMember is returned when a sender acts on a room it has not joined.
	ErrNotMember = errors.New("sender is not a member of the room")

	// ErrInvalidPayload is returned when a frame payload fails to decode
	// or validate.
	ErrInvalidPayload = errors.New("invalid frame payload")
)
