package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/database"
	"chatsync/internal/websocket"
	"chatsync/pkg/types"
)

const maxUploadBytes = 25 << 20 // 25 MB

// Store is the slice of the database layer the REST surface needs.
type Store interface {
	CreateQuestion(ctx context.Context, question *types.Question, opening *types.Message) error
	GetQuestion(ctx context.Context, questionID string) (*types.Question, error)
	GetQuestionHistory(ctx context.Context, questionID string) ([]*types.Message, error)
	StoreMessage(ctx context.Context, message *types.Message) error
	UpdateReadState(ctx context.Context, questionID, userID string, readAt time.Time) error
	GetReadState(ctx context.Context, questionID, userID string) (time.Time, error)
	HealthCheck(ctx context.Context) error
}

// Server exposes the relay's REST endpoints: question creation,
// history, file uploads, read marks and health.
type Server struct {
	store     Store
	registry  *websocket.Registry
	authToken string
	uploadDir string
	dbTimeout time.Duration
}

func NewServer(store Store, registry *websocket.Registry, authToken, uploadDir string, dbTimeout time.Duration) *Server {
	return &Server{
		store:     store,
		registry:  registry,
		authToken: authToken,
		uploadDir: uploadDir,
		dbTimeout: dbTimeout,
	}
}

// RegisterRoutes attaches all REST handlers to mux. The health endpoint
// skips the token check so probes need no credentials.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/questions", s.withAuth(s.handleCreateQuestion))
	mux.HandleFunc("GET /api/questions/{id}/messages", s.withAuth(s.handleGetMessages))
	mux.HandleFunc("POST /api/questions/{id}/files", s.withAuth(s.handleFileUpload))
	mux.HandleFunc("POST /api/questions/{id}/read", s.withAuth(s.handleMarkRead))
	mux.HandleFunc("GET /api/questions/{id}/read", s.withAuth(s.handleGetReadState))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(s.uploadDir))))
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token != s.authToken {
				s.sendError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req types.CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		s.sendError(w, http.StatusBadRequest, "bad_request", "title and content are required")
		return
	}
	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid user_id")
		return
	}

	now := time.Now().UTC()
	question := &types.Question{
		ID:        uuid.New().String(),
		Title:     req.Title,
		CreatedBy: req.UserID,
		CreatedAt: now,
	}
	opening := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    question.ID,
		SenderID:  req.UserID,
		Content:   req.Content,
		Type:      types.MessageTypeText,
		CreatedAt: now,
		Origin:    types.OriginRemote,
	}
	if err := opening.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.dbTimeout)
	defer cancel()
	if err := s.store.CreateQuestion(ctx, question, opening); err != nil {
		log.Printf("Question creation failed: %v", err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to create question")
		return
	}

	s.sendJSON(w, http.StatusCreated, types.CreateQuestionResponse{Question: question})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	questionID := r.PathValue("id")
	if !types.IsValidRoomID(questionID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid question id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.dbTimeout)
	defer cancel()
	messages, err := s.store.GetQuestionHistory(ctx, questionID)
	if err != nil {
		if errors.Is(err, database.ErrQuestionNotFound) {
			s.sendError(w, http.StatusNotFound, "not_found", "question not found")
			return
		}
		log.Printf("History fetch failed: question=%s: %v", questionID, err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}

	s.sendJSON(w, http.StatusOK, types.MessagesResponse{Messages: messages})
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	questionID := r.PathValue("id")
	if !types.IsValidRoomID(questionID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid question id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.dbTimeout)
	defer cancel()
	if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
		if errors.Is(err, database.ErrQuestionNotFound) {
			s.sendError(w, http.StatusNotFound, "not_found", "question not found")
			return
		}
		log.Printf("Question lookup failed: question=%s: %v", questionID, err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to look up question")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.sendError(w, http.StatusBadRequest, "bad_request", "malformed upload")
		return
	}
	userID := r.FormValue("user_id")
	if !types.IsValidUserID(userID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid user_id")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "bad_request", "missing file field")
		return
	}
	defer file.Close()

	fileURL, err := s.saveUpload(file, header.Filename)
	if err != nil {
		log.Printf("File save failed: question=%s: %v", questionID, err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to store file")
		return
	}

	message := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    questionID,
		SenderID:  userID,
		Content:   header.Filename,
		Type:      messageTypeForFile(header.Filename),
		FileURL:   fileURL,
		CreatedAt: time.Now().UTC(),
		Origin:    types.OriginRemote,
	}
	if err := s.store.StoreMessage(ctx, message); err != nil {
		log.Printf("File message store failed: question=%s: %v", questionID, err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to store message")
		return
	}

	// Push to every connected participant so nobody waits for a refetch.
	// The uploader gets its copy from the HTTP response instead.
	for _, participant := range s.registry.ParticipantConnections(questionID) {
		if participant.UserID() == userID {
			continue
		}
		if err := participant.WriteFrame(types.EventNewMessage, types.NewMessagePayload{Message: *message}); err != nil {
			log.Printf("File message delivery failed: user=%s question=%s: %v", participant.UserID(), questionID, err)
		}
	}

	s.sendJSON(w, http.StatusCreated, types.FileUploadResponse{Message: message})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	questionID := r.PathValue("id")
	if !types.IsValidRoomID(questionID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid question id")
		return
	}
	var req types.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid user_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.dbTimeout)
	defer cancel()
	if err := s.store.UpdateReadState(ctx, questionID, req.UserID, time.Now().UTC()); err != nil {
		log.Printf("Read mark failed: question=%s user=%s: %v", questionID, req.UserID, err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to record read mark")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReadState(w http.ResponseWriter, r *http.Request) {
	questionID := r.PathValue("id")
	if !types.IsValidRoomID(questionID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid question id")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidUserID(userID) {
		s.sendError(w, http.StatusBadRequest, "bad_request", "invalid user_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.dbTimeout)
	defer cancel()
	if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
		if errors.Is(err, database.ErrQuestionNotFound) {
			s.sendError(w, http.StatusNotFound, "not_found", "question not found")
			return
		}
		log.Printf("Question lookup failed: question=%s: %v", questionID, err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to look up question")
		return
	}
	readAt, err := s.store.GetReadState(ctx, questionID, userID)
	if err != nil {
		log.Printf("Read state fetch failed: question=%s user=%s: %v", questionID, userID, err)
		s.sendError(w, http.StatusInternalServerError, "internal", "failed to load read state")
		return
	}

	s.sendJSON(w, http.StatusOK, types.ReadStateResponse{UserID: userID, ReadAt: readAt})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	for k, v := range s.registry.Stats() {
		status[k] = v
	}
	s.sendJSON(w, code, status)
}

// saveUpload writes the content under a fresh name, keeping the
// original extension so served files get a sensible content type.
func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := uuid.New().String() + strings.ToLower(filepath.Ext(filename))
	dst, err := os.Create(filepath.Join(s.uploadDir, name))
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return "/files/" + name, nil
}

func messageTypeForFile(filename string) types.MessageType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return types.MessageTypeImage
	case ".pdf":
		return types.MessageTypePublicPDF
	default:
		return types.MessageTypeFile
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Response encoding failed: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, errCode, message string) {
	s.sendJSON(w, code, types.ErrorResponse{Error: errCode, Code: code, Message: message})
}
