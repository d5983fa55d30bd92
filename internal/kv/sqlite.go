package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/gtd/internal/fs"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// maxSQLiteVars stays below SQLITE_MAX_VARIABLE_NUMBER on old builds.
const maxSQLiteVars = 500

// SQLite stores keys in a single two-column table.
type SQLite struct {
	db   *sql.DB
	lock *fs.Lock
}

// OpenSQLite opens (creating if needed) <dir>/store.sqlite.
func OpenSQLite(ctx context.Context, dir string) (*SQLite, error) {
	if dir == "" {
		return nil, errors.New("open sqlite store: dir is empty")
	}

	lock, err := lockDir(ctx, fs.NewReal(), dir)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "store.sqlite"))
	if err != nil {
		_ = lock.Close()

		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// One connection serializes writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	) WITHOUT ROWID`)
	if err != nil {
		_ = db.Close()
		_ = lock.Close()

		return nil, fmt.Errorf("open sqlite store: create table: %w", err)
	}

	return &SQLite{db: db, lock: lock}, nil
}

// Close closes the database and releases the directory lock.
func (s *SQLite) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Close()

	return errors.Join(dbErr, lockErr)
}

// Get implements [Storage].
func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("get %q: %w", key, err)
	}

	return value, true, nil
}

// Set implements [Storage].
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	return nil
}

// Remove implements [Storage].
func (s *SQLite) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}

	return nil
}

// ListKeys implements [Storage].
func (s *SQLite) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var keys []string

	for rows.Next() {
		var key string

		err := rows.Scan(&key)
		if err != nil {
			return nil, fmt.Errorf("list keys: scan: %w", err)
		}

		keys = append(keys, key)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	return keys, nil
}

// MultiGet implements [Storage], reading keys in batches with IN queries.
func (s *SQLite) MultiGet(ctx context.Context, keys []string) ([]Pair, error) {
	found := make(map[string]string, len(keys))

	for start := 0; start < len(keys); start += maxSQLiteVars {
		batch := keys[start:min(start+maxSQLiteVars, len(keys))]

		err := s.fetchBatch(ctx, batch, found)
		if err != nil {
			return nil, err
		}
	}

	pairs := make([]Pair, 0, len(keys))

	for _, key := range keys {
		value, ok := found[key]
		pairs = append(pairs, Pair{Key: key, Value: value, Found: ok})
	}

	return pairs, nil
}

func (s *SQLite) fetchBatch(ctx context.Context, batch []string, into map[string]string) error {
	args := make([]any, len(batch))
	for i, key := range batch {
		args[i] = key
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("multi get: %w", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, value string

		err := rows.Scan(&key, &value)
		if err != nil {
			return fmt.Errorf("multi get: scan: %w", err)
		}

		into[key] = value
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("multi get: %w", err)
	}

	return nil
}

var _ Backend = (*SQLite)(nil)
