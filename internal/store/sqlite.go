// ABOUTME: SQLite backend for SQLStore using modernc.org/sqlite
// ABOUTME: Creates the schema on open and applies column migrations for older databases

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:              "sqlite",
	mergeContext:      "json_patch(context, ?)",
	likeOp:            "LIKE",
	isUniqueViolation: isConstraintViolation,
	timeArg:           textTime,
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every connection the pool opens.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers, which keeps the
	// append-and-bump transaction free of SQLITE_BUSY upgrades and lets
	// :memory: databases survive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLStore{
		db:      db,
		dialect: sqliteDialect,
		logger:  logger,
		now:     time.Now,
	}

	if err := s.createSQLiteSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runSQLiteMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSQLiteSchema creates the database tables if they don't exist.
// Timestamps are TEXT in timeLayout so the driver never reinterprets them.
func (s *SQLStore) createSQLiteSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			id           INTEGER PRIMARY KEY,
			display_name TEXT NOT NULL,
			email        TEXT NOT NULL,
			role         TEXT NOT NULL,
			is_verified  INTEGER NOT NULL DEFAULT 0,
			avatar_url   TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,

			CHECK (role IN ('job_seeker', 'employer', 'admin'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_email
			ON identities(email COLLATE NOCASE);

		CREATE TABLE IF NOT EXISTS conversations (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			participant_a_id INTEGER NOT NULL,
			participant_b_id INTEGER NOT NULL,
			context          TEXT NOT NULL DEFAULT '{}',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (participant_a_id < participant_b_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(participant_a_id, participant_b_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_b
			ON conversations(participant_b_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			sender_id       INTEGER NOT NULL,
			content         TEXT NOT NULL,
			is_read         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, is_read, sender_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runSQLiteMigrations applies column additions to databases created by
// earlier versions.
func (s *SQLStore) runSQLiteMigrations() error {
	var hasReadAt int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('messages') WHERE name = 'read_at'
	`).Scan(&hasReadAt)
	if err != nil {
		return fmt.Errorf("checking for read_at column: %w", err)
	}

	if hasReadAt == 0 {
		if _, err := s.db.Exec(`ALTER TABLE messages ADD COLUMN read_at TEXT`); err != nil {
			return fmt.Errorf("adding read_at column: %w", err)
		}
		s.logger.Info("migrated messages table", "added_column", "read_at")
	}

	return nil
}

// isConstraintViolation reports whether err is a SQLite UNIQUE failure.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
