package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "chatsync/pkg/database"
	"chatsync/pkg/types"
)

// Manager is the relay's store. Reads run concurrently through the
// connection pool; every write funnels through a single goroutine,
// which is how SQLite stays contention-free under WAL.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all writes in a single goroutine, retrying a
// failed write once after 5 seconds.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// CreateQuestion stores a question thread together with its opening
// message in one transaction.
func (m *Manager) CreateQuestion(ctx context.Context, question *types.Question, opening *types.Message) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (id, title, created_by, created_at) VALUES (?, ?, ?, ?)`,
			question.ID, question.Title, question.CreatedBy, question.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert question: %w", err)
		}

		if opening != nil {
			if err := insertMessage(ctx, tx, opening); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit question creation: %w", err)
		}
		return nil
	})
}

// GetQuestion retrieves one question by ID.
func (m *Manager) GetQuestion(ctx context.Context, questionID string) (*types.Question, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, title, created_by, created_at FROM questions WHERE id = ?`, questionID,
	)

	var question types.Question
	err := row.Scan(&question.ID, &question.Title, &question.CreatedBy, &question.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to query question: %w", err)
	}
	return &question, nil
}

// StoreMessage persists one message.
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := insertMessage(ctx, tx, message); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
		return nil
	})
}

func insertMessage(ctx context.Context, tx *sql.Tx, message *types.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, question_id, sender_id, content, type, file_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.RoomID, message.SenderID, message.Content,
		string(message.Type), message.FileURL, message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetQuestionHistory returns a question's messages ordered by creation
// time, ties broken by ID for a stable order.
func (m *Manager) GetQuestionHistory(ctx context.Context, questionID string) ([]*types.Message, error) {
	if _, err := m.GetQuestion(ctx, questionID); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT id, question_id, sender_id, content, type, file_url, created_at
		 FROM messages WHERE question_id = ? ORDER BY created_at, id`, questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var message types.Message
		var fileURL sql.NullString
		var msgType string
		err := rows.Scan(&message.ID, &message.RoomID, &message.SenderID,
			&message.Content, &msgType, &fileURL, &message.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		message.Type = types.MessageType(msgType)
		message.FileURL = fileURL.String
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}

// UpdateReadState upserts a user's read mark for a question.
func (m *Manager) UpdateReadState(ctx context.Context, questionID, userID string, readAt time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO read_state (question_id, user_id, read_at) VALUES (?, ?, ?)
			 ON CONFLICT(question_id, user_id) DO UPDATE SET read_at = excluded.read_at`,
			questionID, userID, readAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update read state: %w", err)
		}
		return nil
	})
}

// GetReadState returns a user's read mark for a question, zero time if
// never marked.
func (m *Manager) GetReadState(ctx context.Context, questionID, userID string) (time.Time, error) {
	var readAt time.Time
	err := m.db.QueryRowContext(ctx,
		`SELECT read_at FROM read_state WHERE question_id = ? AND user_id = ?`,
		questionID, userID,
	).Scan(&readAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to query read state: %w", err)
	}
	return readAt, nil
}

// HealthCheck verifies the database responds.
func (m *Manager) HealthCheck(ctx context.Context) error {
	var one int
	if err := m.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// GetDB exposes the underlying handle for migrations and validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}
