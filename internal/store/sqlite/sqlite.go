// Package sqlite provides a SQLite-backed implementation of rosca.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"rotasave.org/internal/rosca"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
    key        BLOB PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);`

// ErrReadOnly is returned by Set inside View.
var ErrReadOnly = errors.New("sqlite: write in read-only view")

// Ensure Store implements rosca.Store
var _ rosca.Store = (*Store)(nil)

// Store keeps records in a single SQLite file. SQLite has one writer at a
// time, so the pool holds one connection and every step is serialized.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory, opens the database and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Update runs fn in a transaction. The lock key is not needed: the single
// connection already serializes writers.
func (s *Store) Update(ctx context.Context, _ []byte, fn func(rosca.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(rosca.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(&txn{tx: tx, readOnly: true})
}

type txn struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx, "SELECT value FROM kv_records WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record: %w", err)
	}
	return value, true, nil
}

func (t *txn) Set(ctx context.Context, key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO kv_records (key, value, updated_at) VALUES (?, ?, unixepoch())
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
