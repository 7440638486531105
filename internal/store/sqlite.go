// ABOUTME: SQLite implementation of the KeyValueStore interface using modernc.org/sqlite
// ABOUTME: Provides key/value persistence with automatic schema creation

package store

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

// busyTimeout is how long a connection waits on a lock held by another
// process sharing the database file.
const busyTimeout = 5 * time.Second

// SQLiteStore implements the KeyValueStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn := path
	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode so several processes can share the file
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves the value stored under key.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying key %q: %w", key, err)
	}
	return value, nil
}

// Upsert writes value under key, replacing any existing value.
func (s *SQLiteStore) Upsert(ctx context.Context, key, value string) error {
	if err := upsert(ctx, s.db, key, value); err != nil {
		return err
	}
	s.logger.Debug("upserted key", "key", key)
	return nil
}

// Delete removes key if present.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	s.logger.Debug("deleted key", "key", key)
	return nil
}

// CreateIfAbsent inserts key only when no row exists yet. The primary key on
// kv_store makes this safe across processes sharing the database.
func (s *SQLiteStore) CreateIfAbsent(ctx context.Context, key, value string) (bool, error) {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, key, value, now())
	if err != nil {
		return false, fmt.Errorf("inserting key %q: %w", key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	created := rowsAffected > 0
	s.logger.Debug("create-if-absent", "key", key, "created", created)
	return created, nil
}

// CompareAndSwap updates key only while it still holds oldValue, so of
// several processes racing to replace the same value exactly one wins.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE kv_store SET value = ?, updated_at = ? WHERE key = ? AND value = ?`,
		newValue, now(), key, oldValue)
	if err != nil {
		return false, fmt.Errorf("swapping key %q: %w", key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	swapped := rowsAffected > 0
	s.logger.Debug("compare-and-swap", "key", key, "swapped", swapped)
	return swapped, nil
}

// Apply runs every op inside a single transaction.
func (s *SQLiteStore) Apply(ctx context.Context, ops ...Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		if op.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, op.Key); err != nil {
				return fmt.Errorf("deleting key %q: %w", op.Key, err)
			}
			continue
		}
		if err := upsert(ctx, tx, op.Key, op.Value); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("applied batch", "ops", len(ops))
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, e execer, key, value string) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	if _, err := e.ExecContext(ctx, query, key, value, now()); err != nil {
		return fmt.Errorf("upserting key %q: %w", key, err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Ensure SQLiteStore implements KeyValueStore.
var _ KeyValueStore = (*SQLiteStore)(nil)
