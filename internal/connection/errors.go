package connection

import "errors"

var (
	// ErrNotDegraded is returned by Retry when the transport is not in
	// the degraded state. Only an established-then-lost (or failed)
	// connection is retryable.
	ErrNotDegraded = errors.New("connection is not degraded")

	// ErrNoCredentials is returned by Retry before any Connect call.
	ErrNoCredentials = errors.New("no credentials from a previous connect")

	// ErrWriteTimeout is returned when the write channel stays full for
	// the configured write window.
	ErrWriteTimeout = errors.New("write timed out")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("connection manager is closed")
)
