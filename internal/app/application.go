package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/config"
	"chatsync/internal/database"
	"chatsync/internal/hub"
	"chatsync/internal/router"
	"chatsync/internal/websocket"
	dbpkg "chatsync/pkg/database"
)

// Application wires the relay's components together and owns their
// lifecycle: database, registry, router, hub, REST API and the HTTP
// server, started in dependency order and stopped in reverse.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds all components. The database is opened and
// migrated here so a bad path or schema fails fast, before anything
// listens.
func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := dbpkg.DefaultConfig()
	dbConfig.DatabasePath = cfg.Relay.DatabasePath
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	migrations := dbpkg.NewMigrationManager(dbManager.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	validator := dbpkg.NewSchemaValidator(dbManager.GetDB())
	if err := validator.ValidateTablesExist(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	registry := websocket.NewRegistry()
	frameRouter := router.NewRouter(registry, dbManager)
	messageHub := hub.NewHub(registry, frameRouter)
	wsHandler := websocket.NewHandler(messageHub, cfg.Relay.AuthToken)

	uploadDir := filepath.Join(filepath.Dir(cfg.Relay.DatabasePath), "uploads")
	apiServer := api.NewServer(dbManager, registry, cfg.Relay.AuthToken, uploadDir, cfg.Relay.DBTimeout)

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	mux.HandleFunc("GET /ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		router:     frameRouter,
		hub:        messageHub,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub and then the HTTP listener. A brief
// verification window catches listeners that die immediately, so
// callers get an error instead of a silent exit.
func (a *Application) Start(ctx context.Context) error {
	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.hub.Stop()
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts components down in reverse start order: stop accepting
// HTTP traffic, drain the hub, then close the database.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		firstErr = err
	}

	a.hub.Stop()

	if err := a.dbManager.Close(); err != nil {
		log.Printf("Database close error: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	log.Printf("Application stopped")
	return firstErr
}

// Addr returns the configured listen address.
func (a *Application) Addr() string {
	return a.httpServer.Addr
}
