package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"chatterm/internal/apperrors"
	"chatterm/internal/models"
)

// Storage keys for the persisted client state
// so the stored state reads the same way on both clients.
const (
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
	keyTheme        = "theme"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the state database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	// WAL keeps the single-writer case snappy and robust against crashes
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	// One local caller, no need for a pool
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS client_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadTokens returns the stored pair. If either half is missing the whole
// pair is treated as absent.
func (s *SQLiteStore) LoadTokens(ctx context.Context) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := s.get(ctx, keyAccessToken)
	if err != nil {
		return pair, err
	}
	refresh, err := s.get(ctx, keyRefreshToken)
	if err != nil {
		return pair, err
	}

	if access == "" || refresh == "" {
		return pair, apperrors.ErrTokensNotFound
	}

	pair.Access = access
	pair.Refresh = refresh
	return pair, nil
}

func (s *SQLiteStore) SaveTokens(ctx context.Context, pair models.TokenPair) error {
	if pair.Access == "" || pair.Refresh == "" {
		return errors.New("refusing to store a partial token pair")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	for key, value := range map[string]string{
		keyAccessToken:  pair.Access,
		keyRefreshToken: pair.Refresh,
	} {
		if err := upsert(ctx, tx, key, value); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ClearTokens(ctx context.Context) error {
	query := `DELETE FROM client_state WHERE key IN (?, ?)`

	if _, err := s.db.ExecContext(ctx, query, keyAccessToken, keyRefreshToken); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Theme(ctx context.Context) (string, error) {
	return s.get(ctx, keyTheme)
}

func (s *SQLiteStore) SetTheme(ctx context.Context, theme string) error {
	query := `
		INSERT INTO client_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := s.db.ExecContext(ctx, query, keyTheme, theme); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// get returns the stored value or empty string when the key is absent
func (s *SQLiteStore) get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM client_state WHERE key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %q: %w", key, err)
	}
	return value, nil
}

func upsert(ctx context.Context, tx *sql.Tx, key string, value string) error {
	query := `
		INSERT INTO client_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}
