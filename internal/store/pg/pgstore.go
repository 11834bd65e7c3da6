// Package pg stores engine records in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"hash/fnv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rotasave.org/internal/rosca"
)

// Migrations holds the schema for the kv_records table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"

// ErrReadOnly is returned by Set inside View.
var ErrReadOnly = errors.New("pg: write in read-only view")

type Store struct {
	db *sql.DB
}

var _ rosca.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Update runs fn inside a transaction holding an advisory lock derived from
// lock, so steps on the same group queue up behind each other.
func (s *Store) Update(ctx context.Context, lock []byte, fn func(rosca.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockID(lock)); err != nil {
		return err
	}
	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) View(ctx context.Context, fn func(rosca.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txn{tx: tx, readOnly: true}); err != nil {
		return err
	}
	return tx.Commit()
}

type txn struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx, `select value from kv_records where key=$1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *txn) Set(ctx context.Context, key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into kv_records(key, value, updated_at)
		values ($1, $2, now())
		on conflict (key) do update
		set value = excluded.value, updated_at = now()
	`, key, value)
	return err
}

// --- helpers ---
func lockID(lock []byte) int64 {
	h := fnv.New64a()
	_, _ = h.Write(lock)
	return int64(h.Sum64())
}
