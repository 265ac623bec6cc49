package types

import "time"

// Request and response bodies for the relay's REST surface, shared by
// the server and the history client so both sides agree on shape.

// CreateQuestionRequest opens a new question thread. Content becomes
// the thread's first message.
type CreateQuestionRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// CreateQuestionResponse returns the created thread.
type CreateQuestionResponse struct {
	Question *Question `json:"question"`
}

// MessagesResponse is the ordered history of one question.
type MessagesResponse struct {
	Messages []*Message `json:"messages"`
}

// FileUploadResponse returns the message stored for an uploaded file.
type FileUploadResponse struct {
	Message *Message `json:"message"`
}

// MarkReadRequest records that a user has seen a question's messages.
type MarkReadRequest struct {
	UserID string `json:"user_id"`
}

// ReadStateResponse is a user's persisted read mark for one question.
// ReadAt is the zero time if the user has never marked it.
type ReadStateResponse struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// ErrorResponse is the uniform error body for all REST endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
