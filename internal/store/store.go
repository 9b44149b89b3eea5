package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite field/value document store backing the symbol index.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  location        TEXT NOT NULL UNIQUE,
  hash            TEXT,
  docs_hash       TEXT,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  ordinal         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pairs (
  id              INTEGER PRIMARY KEY,
  document_id     INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  field           TEXT NOT NULL,
  value           TEXT NOT NULL,
  value_ci        TEXT NOT NULL,
  indexed         INTEGER NOT NULL DEFAULT 1,
  stored          INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_file ON documents(file_id);
CREATE INDEX IF NOT EXISTS idx_pairs_document ON pairs(document_id);
CREATE INDEX IF NOT EXISTS idx_pairs_field_value ON pairs(field, value);
CREATE INDEX IF NOT EXISTS idx_pairs_field_value_ci ON pairs(field, value_ci);
`

// DeleteFileData removes a file and, through cascading deletes, all of its
// documents and pairs.
func (s *Store) DeleteFileData(location string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM files WHERE location = ?", location); err != nil {
		return fmt.Errorf("delete file %s: %w", location, err)
	}
	return tx.Commit()
}

// Metadata returns the value stored under key, or "" when absent.
func (s *Store) Metadata(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", key, err)
	}
	return v, nil
}

// SetMetadata upserts a metadata value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}
