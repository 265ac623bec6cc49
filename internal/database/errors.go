package database

import "errors"

var (
	// ErrQuestionNotFound is returned when a question ID has no row.
	ErrQuestionNotFound = errors.New("question not found")

	// ErrManagerClosed is returned by writes after Close.
	ErrManagerClosed = errors.New("database manager is closed")

	// ErrWriteTimeout is returned when the write queue stays saturated.
	ErrWriteTimeout = errors.New("database write timed out")
)
