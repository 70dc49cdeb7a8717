// Package sqlite persists the application state as a single row in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_state (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	document    TEXT    NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS app_state_corrupt (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	document       TEXT    NOT NULL,
	quarantined_at INTEGER NOT NULL
);`

// Store implements ports.StateBackend on SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens and migrates a SQLite state database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts the state document.
func (s *Store) Save(ctx context.Context, state *domain.AppState) error {
	data, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO app_state (id, document, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Load reads and decodes the state document.
func (s *Store) Load(ctx context.Context) (*domain.AppState, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT document FROM app_state WHERE id = 1`).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	state, err := domain.UnmarshalState([]byte(doc))
	if err != nil {
		return nil, errors.Join(domain.ErrStateCorrupt, err)
	}
	return state, nil
}

// Quarantine moves the state row into app_state_corrupt and returns
// "app_state_corrupt#<row id>".
func (s *Store) Quarantine(ctx context.Context) (string, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin quarantine: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	if err := tx.QueryRowContext(ctx, `SELECT document FROM app_state WHERE id = 1`).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrStateNotFound
		}
		return "", fmt.Errorf("read state: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO app_state_corrupt (document, quarantined_at) VALUES (?, ?)`,
		doc, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("quarantine state: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("quarantine state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM app_state WHERE id = 1`); err != nil {
		return "", fmt.Errorf("clear state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit quarantine: %w", err)
	}
	return fmt.Sprintf("app_state_corrupt#%d", rowID), nil
}

// Delete removes the state row.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM app_state WHERE id = 1`); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// QuarantinedDocument returns one quarantined document by row id.
func (s *Store) QuarantinedDocument(ctx context.Context, rowID int64) (string, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT document FROM app_state_corrupt WHERE id = ?`, rowID).Scan(&doc)
	if err != nil {
		return "", fmt.Errorf("read quarantined state: %w", err)
	}
	return doc, nil
}
