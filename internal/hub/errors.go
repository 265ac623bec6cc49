package hub

import "errors"

var (
	// ErrHubNotStarted is returned when work is submitted before Start.
	ErrHubNotStarted = errors.New("hub not started")

	// ErrHubStopped is returned when work is submitted after Stop.
	ErrHubStopped = errors.New("hub stopped")

	// ErrQueueFull is returned when a channel is at capacity; the caller
	// decides whether to drop or retry.
	ErrQueueFull = errors.New("hub queue full")
)
