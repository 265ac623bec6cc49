package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"chatsync/pkg/interfaces"
	"chatsync/pkg/types"
)

// Client is the REST side of the backend: history loads, question
// creation, file uploads and read marks. It deliberately shares nothing
// with the websocket transport; a dead socket does not stop history
// from loading.
type Client struct {
	baseURL string
	userID  string
	token   string
	http    *http.Client
}

// NewClient creates a client for the relay's REST surface at baseURL
// (scheme + host, no trailing slash).
func NewClient(baseURL, userID, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

var _ interfaces.Backend = (*Client)(nil)

// FetchHistory returns the question's messages ordered by creation
// time. History arrives with Origin unset; it is stamped remote here so
// the stream never sees an ambiguous origin.
func (c *Client) FetchHistory(ctx context.Context, roomID string) ([]*types.Message, error) {
	var body types.MessagesResponse
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/questions/%s/messages", roomID), nil, &body)
	if err != nil {
		return nil, err
	}

	for _, msg := range body.Messages {
		msg.Origin = types.OriginRemote
	}
	return body.Messages, nil
}

// SendFile uploads one attachment as a multipart form. The relay stores
// a file message and broadcasts it; the returned copy is merged locally
// so the sender sees it without waiting for the push.
func (c *Client) SendFile(ctx context.Context, roomID, filename string, data io.Reader) (*types.Message, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("read upload data: %w", err)
	}
	if err := form.WriteField("user_id", c.userID); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/questions/%s/files", roomID), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var body types.FileUploadResponse
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	if body.Message != nil {
		body.Message.Origin = types.OriginRemote
	}
	return body.Message, nil
}

// CreateRoom opens a new question thread and returns its room ID.
func (c *Client) CreateRoom(ctx context.Context, title, content string) (string, error) {
	reqBody := types.CreateQuestionRequest{Title: title, Content: content, UserID: c.userID}
	var body types.CreateQuestionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/questions", reqBody, &body); err != nil {
		return "", err
	}
	if body.Question == nil {
		return "", fmt.Errorf("create question: empty response")
	}
	return body.Question.ID, nil
}

// MarkAsRead persists the user's read mark for the question.
func (c *Client) MarkAsRead(ctx context.Context, roomID string) error {
	reqBody := types.MarkReadRequest{UserID: c.userID}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/questions/%s/read", roomID), reqBody, nil)
}

// ReadState fetches the user's persisted read mark for the question.
func (c *Client) ReadState(ctx context.Context, roomID string) (time.Time, error) {
	var body types.ReadStateResponse
	path := fmt.Sprintf("/api/questions/%s/read?user_id=%s", roomID, c.userID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
		return time.Time{}, err
	}
	return body.ReadAt, nil
}

// Health probes the relay's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends an optional JSON body and decodes an optional JSON
// response.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, respBody)
}

// do executes the request and maps non-2xx statuses to sentinel errors
// where the status is meaningful to callers.
func (c *Client) do(req *http.Request, respBody interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, interfaces.ErrRoomNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, interfaces.ErrAuthenticationFailed)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var apiErr types.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if respBody == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		log.Printf("Malformed response body: %s %s: %v", req.Method, req.URL.Path, err)
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
