// Package credstore persists the cached completion-service credential
// between runs.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store holds a single cached credential record in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Credential is the cached token plus when it was obtained.
type Credential struct {
	Token      string
	ObtainedAt time.Time
}

// ErrNoCredential means nothing has been cached yet.
var ErrNoCredential = errors.New("no cached credential")

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create credential directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open credential store: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("credential store migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credential (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		token       TEXT NOT NULL,
		obtained_at DATETIME NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the cached credential, or ErrNoCredential when the store
// is empty.
func (s *Store) Load(ctx context.Context) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, obtained_at FROM credential WHERE id = 1`)

	var cred Credential
	if err := row.Scan(&cred.Token, &cred.ObtainedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return &cred, nil
}

// Save stores the credential, replacing any previous one.
func (s *Store) Save(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credential (id, token, obtained_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, obtained_at = excluded.obtained_at`,
		token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.logger.Info("credential cached")
	return nil
}

// Clear removes the cached credential.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credential WHERE id = 1`); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
