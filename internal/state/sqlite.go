package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteProvider stores values in a single-file SQLite database. It serves
// deployments that want one durable artifact instead of a directory of
// JSON files.
type SQLiteProvider struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// NewSQLiteProvider opens (and initializes) the database at path.
func NewSQLiteProvider(path string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	// One writer at a time keeps the driver out of SQLITE_BUSY territory.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: init schema: %w", err)
	}
	return &SQLiteProvider{db: db}, nil
}

// Close releases the database handle.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

// Save implements Provider.
func (p *SQLiteProvider) Save(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sanitizeKey(key), value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("state: save %s: %w", key, err)
	}
	return nil
}

// Load implements Provider.
func (p *SQLiteProvider) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, sanitizeKey(key)).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: load %s: %w", key, err)
	}
	return value, true, nil
}

// Delete implements Provider.
func (p *SQLiteProvider) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM state WHERE key = ?`, sanitizeKey(key)); err != nil {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

// Exists implements Provider.
func (p *SQLiteProvider) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM state WHERE key = ?`, sanitizeKey(key)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: exists %s: %w", key, err)
	}
	return true, nil
}

// ListKeys implements Provider.
func (p *SQLiteProvider) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM state WHERE key LIKE ? || '%' ORDER BY key`, sanitizeKey(prefix))
	if err != nil {
		return nil, fmt.Errorf("state: list %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
