package websocket

import "errors"

var (
	// ErrConnectionClosed is returned by writes to a closed connection.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrWriteTimeout is returned when the write buffer stays full.
	ErrWriteTimeout = errors.New("write timed out")

	// ErrInvalidJSON is returned when a payload cannot be marshaled.
	ErrInvalidJSON = errors.New("invalid JSON payload")

	// ErrNilConnection is returned by registry operations on nil.
	ErrNilConnection = errors.New("connection is nil")
)
