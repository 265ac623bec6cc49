package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one schema evolution step.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are embedded so the relay needs no files next to the
// binary. Versions apply in lexicographic order and each runs in its
// own transaction.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "initial_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS questions (
				id         TEXT PRIMARY KEY,
				title      TEXT NOT NULL,
				created_by TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS messages (
				id          TEXT PRIMARY KEY,
				question_id TEXT NOT NULL,
				sender_id   TEXT NOT NULL,
				content     TEXT NOT NULL,
				type        TEXT NOT NULL,
				file_url    TEXT,
				created_at  DATETIME NOT NULL,
				FOREIGN KEY (question_id) REFERENCES questions(id)
			);

			CREATE TABLE IF NOT EXISTS read_state (
				question_id TEXT NOT NULL,
				user_id     TEXT NOT NULL,
				read_at     DATETIME NOT NULL,
				PRIMARY KEY (question_id, user_id),
				FOREIGN KEY (question_id) REFERENCES questions(id)
			);

			CREATE INDEX IF NOT EXISTS idx_messages_question_time ON messages(question_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
			CREATE INDEX IF NOT EXISTS idx_questions_created_by ON questions(created_by);
		`,
	},
}

// MigrationManager applies pending migrations and tracks them in a
// schema_migrations table.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a manager over db.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations runs every migration not yet recorded, in version
// order. Each migration and its tracking row commit atomically.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, migration := range migrations {
		if !applied[migration.Version] {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, migration := range pending {
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}
	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
		migration.Version, migration.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}
